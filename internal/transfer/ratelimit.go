package transfer

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// RateLimitEvent records an archive telling us to back off
type RateLimitEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Host       string    `json:"host"`
	StatusCode int       `json:"statusCode"`
	Message    string    `json:"message"`
}

// RateTracker remembers which archive hosts have rate limited us. New
// transfers against a limited host fail fast instead of hammering the
// archive; the limit clears on a successful response or an explicit
// user retry. There is no automatic retry: data centers meter downloads
// per user, and burning quota on background retries is worse than
// making the user decide.
type RateTracker struct {
	mu        sync.RWMutex
	limited   map[string]*RateLimitEvent
	onLimited func(event RateLimitEvent)
	onCleared func(host string)
}

// NewRateTracker creates an empty tracker
func NewRateTracker() *RateTracker {
	return &RateTracker{
		limited: make(map[string]*RateLimitEvent),
	}
}

// SetCallbacks sets notification callbacks for limit and clear events
func (rt *RateTracker) SetCallbacks(onLimited func(RateLimitEvent), onCleared func(string)) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.onLimited = onLimited
	rt.onCleared = onCleared
}

// CheckResponse inspects an HTTP response for rate limit indicators and
// records or clears the host's state accordingly. Returns true when the
// response is a rate limit.
func (rt *RateTracker) CheckResponse(host string, resp *http.Response) bool {
	isLimited := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == 509 // Bandwidth Limit Exceeded

	if !isLimited {
		rt.Clear(host)
		return false
	}

	rt.record(host, resp.StatusCode)
	return true
}

// IsLimited reports whether a host is currently rate limited
func (rt *RateTracker) IsLimited(host string) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	_, limited := rt.limited[host]
	return limited
}

// State returns a copy of the host's current rate limit event, or nil
func (rt *RateTracker) State(host string) *RateLimitEvent {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if event, ok := rt.limited[host]; ok {
		eventCopy := *event
		return &eventCopy
	}
	return nil
}

// Clear removes a host's rate limit state; called on recovery and when the
// user explicitly asks to retry
func (rt *RateTracker) Clear(host string) {
	rt.mu.Lock()
	_, existed := rt.limited[host]
	delete(rt.limited, host)
	onCleared := rt.onCleared
	rt.mu.Unlock()

	if existed {
		log.Printf("[RateLimit] %s rate limit cleared", host)
		if onCleared != nil {
			go onCleared(host)
		}
	}
}

func (rt *RateTracker) record(host string, statusCode int) {
	event := RateLimitEvent{
		Timestamp:  time.Now(),
		Host:       host,
		StatusCode: statusCode,
		Message: fmt.Sprintf(
			"%s rate limit detected (HTTP %d). Downloads against this archive are paused; "+
				"retry explicitly once the quota window has passed.", host, statusCode),
	}

	rt.mu.Lock()
	rt.limited[host] = &event
	onLimited := rt.onLimited
	rt.mu.Unlock()

	log.Printf("[RateLimit] %s rate limited (HTTP %d)", host, statusCode)
	if onLimited != nil {
		go onLimited(event)
	}
}
