package transport

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTrackerCapacity is the number of calls kept for diagnostics
const DefaultTrackerCapacity = 100

// TrackedRequest describes one HTTP call made by the Client
type TrackedRequest struct {
	Method     string
	URL        string
	StatusCode int // 0 when no response was received
	Start      time.Time
	End        time.Time
	RequestID  string
}

// Duration returns the wall time of the call
func (r TrackedRequest) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Tracker keeps the most recent calls in a fixed-size ring buffer. When the
// buffer is full the oldest entry is evicted. It is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	buf   []TrackedRequest
	next  int // slot for the next record
	size  int
	total int64
}

// NewTracker creates a tracker holding at most capacity entries
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultTrackerCapacity
	}
	return &Tracker{buf: make([]TrackedRequest, capacity)}
}

// Record appends a call, evicting the oldest one on overflow
func (t *Tracker) Record(r TrackedRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf[t.next] = r
	t.next = (t.next + 1) % len(t.buf)
	if t.size < len(t.buf) {
		t.size++
	}
	t.total++
}

// Requests returns the stored calls, oldest first
func (t *Tracker) Requests() []TrackedRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TrackedRequest, 0, t.size)
	start := (t.next - t.size + len(t.buf)) % len(t.buf)
	for i := range t.size {
		out = append(out, t.buf[(start+i)%len(t.buf)])
	}
	return out
}

// Len returns the number of stored calls
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Capacity returns the maximum number of stored calls
func (t *Tracker) Capacity() int {
	return len(t.buf)
}

// Total returns the number of calls recorded over the tracker's lifetime
func (t *Tracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Stats renders a summary line followed by one line per stored call
func (t *Tracker) Stats() []string {
	reqs := t.Requests()

	out := make([]string, 0, len(reqs)+1)
	out = append(out, fmt.Sprintf("%d Requests", t.Total()))
	for _, r := range reqs {
		out = append(out, fmt.Sprintf("%s %s [%d] in %s", r.Method, r.URL, r.StatusCode, r.Duration().Round(time.Millisecond)))
	}
	return out
}
