// Package transfer downloads radargram files from institutional archives.
// Transfers stream to partial files so an interrupted download resumes from
// where it stopped, concurrency is bounded to avoid saturating archive
// bandwidth, and a completed file is verified before it is promoted to its
// final path.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"radargram-desktop/internal/geoindex"
	"radargram-desktop/internal/naming"
)

const (
	// DefaultMaxConcurrent bounds simultaneous downloads. Archives meter
	// per-user bandwidth, so more parallelism mostly buys rate limits.
	DefaultMaxConcurrent = 3

	copyChunkSize = 64 * 1024

	// finishedHistoryLimit caps how many terminal transfers stay queryable
	// through Get and List. Older ones are forgotten so a long session does
	// not accumulate them.
	finishedHistoryLimit = 16
)

// AvailabilityStore receives segment availability transitions as transfers
// start and finish
type AvailabilityStore interface {
	SetAvailability(segmentID string, availability geoindex.Availability)
}

// Callbacks are invoked as transfers progress. onProgress fires on every
// byte-count update; onComplete fires exactly once per transfer with its
// terminal progress snapshot. Both may be nil.
type Callbacks struct {
	OnProgress func(p Progress)
	OnComplete func(p Progress)
}

// Manager coordinates radargram downloads: one transfer per segment,
// a bounded number running at once, the rest queued on the semaphore.
type Manager struct {
	rootDir     string
	accessToken string
	client      *http.Client
	store       AvailabilityStore
	rateTracker *RateTracker
	sem         *semaphore.Weighted

	mu        sync.Mutex
	bySegment map[string]*Transfer
	byID      map[string]*Transfer
	finished  []string // terminal transfer ids, oldest first
	callbacks Callbacks
}

// NewManager creates a transfer manager writing under rootDir with at most
// maxConcurrent simultaneous downloads
func NewManager(rootDir, accessToken string, maxConcurrent int, store AvailabilityStore) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Manager{
		rootDir:     rootDir,
		accessToken: accessToken,
		client:      &http.Client{Timeout: 0}, // radargrams run to gigabytes; no whole-request timeout
		store:       store,
		rateTracker: NewRateTracker(),
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		bySegment:   make(map[string]*Transfer),
		byID:        make(map[string]*Transfer),
	}
}

// SetCallbacks installs progress notification callbacks
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = cb
}

// RateTracker exposes the rate limit state for the host UI
func (m *Manager) RateTracker() *RateTracker {
	return m.rateTracker
}

// SetConcurrency replaces the download semaphore. Running transfers keep
// their slots; the new bound applies to transfers not yet admitted.
func (m *Manager) SetConcurrency(maxConcurrent int) {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sem = semaphore.NewWeighted(int64(maxConcurrent))
}

// Start begins downloading a segment's radargram. If a transfer for the
// segment is already in flight the existing transfer is returned, so two
// rapid requests never open duplicate streams against the archive.
func (m *Manager) Start(seg *geoindex.Segment) (*Transfer, error) {
	if seg.Remote.URL == "" {
		return nil, fmt.Errorf("segment %s has no remote source", seg.ID)
	}

	host, err := hostOf(seg.Remote.URL)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", seg.ID, err)
	}
	if m.rateTracker.IsLimited(host) {
		return nil, fmt.Errorf("archive %s is rate limited; retry later", host)
	}

	m.mu.Lock()
	if existing, ok := m.bySegment[seg.ID]; ok {
		m.mu.Unlock()
		return existing, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := newTransfer(seg.ID, seg.Remote.Filesize, cancel)
	m.bySegment[seg.ID] = t
	m.byID[t.ID] = t
	sem := m.sem
	m.mu.Unlock()

	m.store.SetAvailability(seg.ID, geoindex.Downloading)
	log.Printf("[Transfer] starting %s for segment %s (%s)", t.ID, seg.ID, seg.Remote.URL)

	go m.run(ctx, sem, t, seg, host)
	return t, nil
}

// Cancel aborts a transfer by id. No-op when the transfer is already
// terminal or unknown.
func (m *Manager) Cancel(transferID string) {
	m.mu.Lock()
	t, ok := m.byID[transferID]
	m.mu.Unlock()
	if ok {
		t.Cancel()
	}
}

// Get returns the transfer with the given id
func (m *Manager) Get(transferID string) (*Transfer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[transferID]
	return t, ok
}

// ForSegment returns the in-flight transfer for a segment, if any
func (m *Manager) ForSegment(segmentID string) (*Transfer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.bySegment[segmentID]
	return t, ok
}

// List returns progress snapshots for all transfers the manager remembers,
// in-flight and recently finished
func (m *Manager) List() []Progress {
	m.mu.Lock()
	transfers := make([]*Transfer, 0, len(m.byID))
	for _, t := range m.byID {
		transfers = append(transfers, t)
	}
	m.mu.Unlock()

	out := make([]Progress, len(transfers))
	for i, t := range transfers {
		out[i] = t.Progress()
	}
	return out
}

// WaitIdle blocks until no transfer is in flight. Intended for shutdown
// and tests.
func (m *Manager) WaitIdle() {
	for {
		m.mu.Lock()
		var pending *Transfer
		for _, t := range m.bySegment {
			pending = t
			break
		}
		m.mu.Unlock()
		if pending == nil {
			return
		}
		<-pending.Done()
	}
}

func (m *Manager) run(ctx context.Context, sem *semaphore.Weighted, t *Transfer, seg *geoindex.Segment, host string) {
	if err := sem.Acquire(ctx, 1); err != nil {
		m.finish(t, seg, StateCancelled, nil)
		return
	}
	defer sem.Release(1)

	t.setRunning()
	m.notifyProgress(t.Progress())

	err := m.download(ctx, t, seg, host)
	switch {
	case err == nil:
		m.finish(t, seg, StateCompleted, nil)
	case ctx.Err() != nil:
		m.finish(t, seg, StateCancelled, nil)
	default:
		m.finish(t, seg, StateFailed, err)
	}
}

// finish records the terminal state, updates segment availability, and
// notifies callbacks
func (m *Manager) finish(t *Transfer, seg *geoindex.Segment, state State, err error) {
	p := t.finalize(state, err)

	switch state {
	case StateCompleted:
		m.store.SetAvailability(seg.ID, geoindex.AvailableLocal)
		log.Printf("[Transfer] %s completed: segment %s (%d bytes)", t.ID, seg.ID, p.BytesReceived)
	case StateCancelled:
		// Partial file stays on disk for a future resume
		m.store.SetAvailability(seg.ID, geoindex.AvailableRemote)
		log.Printf("[Transfer] %s cancelled: segment %s at %d/%d bytes", t.ID, seg.ID, p.BytesReceived, p.BytesTotal)
	default:
		m.store.SetAvailability(seg.ID, geoindex.AvailableRemote)
		log.Printf("[Transfer] %s failed: segment %s: %v", t.ID, seg.ID, err)
	}

	m.mu.Lock()
	delete(m.bySegment, seg.ID)
	m.finished = append(m.finished, t.ID)
	for len(m.finished) > finishedHistoryLimit {
		delete(m.byID, m.finished[0])
		m.finished = m.finished[1:]
	}
	cb := m.callbacks
	m.mu.Unlock()

	if cb.OnComplete != nil {
		cb.OnComplete(p)
	}
}

// download streams the remote file into a partial path, resuming from any
// existing partial bytes, then verifies and promotes it
func (m *Manager) download(ctx context.Context, t *Transfer, seg *geoindex.Segment, host string) error {
	finalPath, err := naming.RadargramPath(m.rootDir, seg.RelativePath)
	if err != nil {
		return err
	}
	partialPath := naming.PartialPath(finalPath)

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating segment directory: %w", err)
	}

	var resumeOffset int64
	if info, statErr := os.Stat(partialPath); statErr == nil {
		resumeOffset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seg.Remote.URL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if seg.Remote.Method == geoindex.MethodToken && m.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+m.accessToken)
	}
	if resumeOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeOffset))
		log.Printf("[Transfer] %s resuming segment %s from offset %d", t.ID, seg.ID, resumeOffset)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", seg.Remote.URL, err)
	}
	defer resp.Body.Close()

	if m.rateTracker.CheckResponse(host, resp) {
		return fmt.Errorf("archive %s rate limited the request (HTTP %d)", host, resp.StatusCode)
	}

	appendMode := false
	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the range request; start over
		resumeOffset = 0
	case http.StatusPartialContent:
		appendMode = true
	default:
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, seg.Remote.URL)
	}

	if total := resumeOffset + resp.ContentLength; resp.ContentLength > 0 {
		t.setTotal(total)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(partialPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("opening partial file: %w", err)
	}

	received, copyErr := copyChunks(ctx, f, resp.Body, resumeOffset, t)
	if copyErr != nil {
		f.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("streaming %s: %w", seg.Remote.URL, copyErr)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing partial file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing partial file: %w", err)
	}

	if err := m.verify(partialPath, seg, received); err != nil {
		os.Remove(partialPath)
		return err
	}

	// Promote only after verification so a partial or corrupt file can
	// never be mistaken for an available radargram
	if err := os.Rename(partialPath, finalPath); err != nil {
		return fmt.Errorf("promoting %s: %w", partialPath, err)
	}
	return nil
}

// copyChunks streams body to f in fixed-size chunks, updating the transfer
// after each chunk. Cancellation is observed between chunks: once the last
// byte is written, the transfer completes even if a cancel arrives
// concurrently.
func copyChunks(ctx context.Context, f *os.File, body io.Reader, offset int64, t *Transfer) (int64, error) {
	buf := make([]byte, copyChunkSize)
	received := offset
	for {
		if err := ctx.Err(); err != nil {
			return received, err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return received, writeErr
			}
			received += int64(n)
			t.setReceived(received)
		}
		if readErr == io.EOF {
			return received, nil
		}
		if readErr != nil {
			return received, readErr
		}
	}
}

// verify checks the drained file against the index's expected size and,
// when present, its sha256 digest
func (m *Manager) verify(path string, seg *geoindex.Segment, received int64) error {
	if seg.Remote.Filesize > 0 && received != seg.Remote.Filesize {
		return fmt.Errorf("%w: segment %s: got %d bytes, expected %d",
			ErrIntegrity, seg.ID, received, seg.Remote.Filesize)
	}

	if seg.Remote.SHA256 != "" {
		digest, err := fileSHA256(path)
		if err != nil {
			return fmt.Errorf("hashing %s: %w", path, err)
		}
		if !strings.EqualFold(digest, seg.Remote.SHA256) {
			return fmt.Errorf("%w: segment %s: sha256 %s, expected %s",
				ErrIntegrity, seg.ID, digest, seg.Remote.SHA256)
		}
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (m *Manager) notifyProgress(p Progress) {
	m.mu.Lock()
	cb := m.callbacks
	m.mu.Unlock()
	if cb.OnProgress != nil {
		cb.OnProgress(p)
	}
}

// PumpProgress forwards a transfer's progress updates to the manager's
// OnProgress callback until the transfer finishes. Run in its own goroutine
// by hosts that want event-per-update delivery.
func (m *Manager) PumpProgress(t *Transfer) {
	lastEmit := time.Time{}
	for p := range t.Subscribe() {
		// Throttle intermediate updates; terminal states always pass
		if !p.State.Terminal() && time.Since(lastEmit) < 100*time.Millisecond {
			continue
		}
		lastEmit = time.Now()
		m.notifyProgress(p)
	}
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid download url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("download url %q has no host", rawURL)
	}
	return u.Host, nil
}
