package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the current status of a transfer
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCancelled State = "cancelled"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state is final
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateCompleted || s == StateFailed
}

// ErrIntegrity reports a size or checksum mismatch after a transfer drained.
// The file is discarded rather than promoted: a short read that "succeeded"
// must never be mistaken for a complete radargram.
var ErrIntegrity = errors.New("downloaded file failed integrity check")

// Progress is a snapshot of a transfer's state. BytesReceived is
// non-decreasing until the transfer reaches a terminal state.
type Progress struct {
	TransferID    string `json:"transferId"`
	SegmentID     string `json:"segmentId"`
	BytesReceived int64  `json:"bytesReceived"`
	BytesTotal    int64  `json:"bytesTotal"`
	State         State  `json:"state"`
	Error         string `json:"error,omitempty"`
}

// Percent returns the completed percentage, or 0 when the total is unknown
func (p Progress) Percent() int {
	if p.BytesTotal <= 0 {
		return 0
	}
	pct := int(p.BytesReceived * 100 / p.BytesTotal)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Transfer is one download operation for a segment's radargram.
// At most one transfer is active per segment id; a second start request
// attaches to the existing transfer instead of opening a duplicate stream.
type Transfer struct {
	ID        string `json:"id"`
	SegmentID string `json:"segmentId"`

	mu            sync.Mutex
	bytesReceived int64
	bytesTotal    int64
	state         State
	errMsg        string
	startedAt     string
	completedAt   string
	subscribers   []chan Progress

	cancel context.CancelFunc
	done   chan struct{}
}

func newTransfer(segmentID string, bytesTotal int64, cancel context.CancelFunc) *Transfer {
	return &Transfer{
		ID:         generateTransferID(),
		SegmentID:  segmentID,
		bytesTotal: bytesTotal,
		state:      StatePending,
		startedAt:  time.Now().Format(time.RFC3339),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// generateTransferID creates a unique transfer ID
func generateTransferID() string {
	return fmt.Sprintf("transfer_%d", time.Now().UnixNano())
}

// Progress returns a snapshot of the transfer
func (t *Transfer) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progressLocked()
}

func (t *Transfer) progressLocked() Progress {
	return Progress{
		TransferID:    t.ID,
		SegmentID:     t.SegmentID,
		BytesReceived: t.bytesReceived,
		BytesTotal:    t.bytesTotal,
		State:         t.state,
		Error:         t.errMsg,
	}
}

// Subscribe returns a channel receiving progress updates for this transfer.
// Updates arrive in non-decreasing BytesReceived order; the channel is
// closed after the terminal update. Slow subscribers miss intermediate
// updates rather than stalling the download.
func (t *Transfer) Subscribe() <-chan Progress {
	ch := make(chan Progress, 16)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Terminal() {
		ch <- t.progressLocked()
		close(ch)
		return ch
	}
	t.subscribers = append(t.subscribers, ch)
	return ch
}

// Done is closed when the transfer reaches a terminal state
func (t *Transfer) Done() <-chan struct{} { return t.done }

// Cancel requests the in-flight I/O be aborted. Best-effort: if completion
// races with cancellation, completion wins.
func (t *Transfer) Cancel() {
	t.cancel()
}

func (t *Transfer) setRunning() {
	t.mu.Lock()
	t.state = StateRunning
	p := t.progressLocked()
	t.mu.Unlock()
	t.notify(p)
}

func (t *Transfer) setTotal(total int64) {
	t.mu.Lock()
	t.bytesTotal = total
	t.mu.Unlock()
}

func (t *Transfer) setReceived(n int64) {
	t.mu.Lock()
	if n > t.bytesReceived {
		t.bytesReceived = n
	}
	p := t.progressLocked()
	t.mu.Unlock()
	t.notify(p)
}

// finalize moves the transfer to a terminal state exactly once
func (t *Transfer) finalize(state State, err error) Progress {
	t.mu.Lock()
	if t.state.Terminal() {
		p := t.progressLocked()
		t.mu.Unlock()
		return p
	}
	t.state = state
	if err != nil {
		t.errMsg = err.Error()
	}
	t.completedAt = time.Now().Format(time.RFC3339)
	p := t.progressLocked()
	subs := t.subscribers
	t.subscribers = nil
	t.mu.Unlock()

	for _, ch := range subs {
		// The terminal update must not be dropped; evict a stale buffered
		// update if the subscriber fell behind
		select {
		case ch <- p:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- p
		}
		close(ch)
	}
	close(t.done)
	return p
}

func (t *Transfer) notify(p Progress) {
	t.mu.Lock()
	subs := make([]chan Progress, len(t.subscribers))
	copy(subs, t.subscribers)
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- p:
		default:
		}
	}
}
