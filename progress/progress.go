// Package progress tracks the advancement of DIMSE operations: the four
// sub-operation counters, cooperative cancellation, and listener
// notification.
package progress

import (
	"sync"
	"sync/atomic"

	"github.com/openpacs/go-dicomnet/dimse"
)

// Listener is invoked synchronously after each processed response. A
// listener may call Cancel; the flag is observed at the next response
// boundary.
type Listener func(p *Progress)

// Progress is a set of monotonically updated counters shared between the
// caller and the goroutines driving an operation. Counter updates are
// atomic; the listener list is guarded by a lock.
type Progress struct {
	remaining atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	warning   atomic.Int64
	totalSize atomic.Int64
	cancelled atomic.Bool

	mu            sync.Mutex
	processedPath string
	listeners     []Listener
}

// New returns an empty progress handle.
func New() *Progress {
	return &Progress{}
}

// AddListener appends a listener invoked after each response.
func (p *Progress) AddListener(l Listener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

// Notify runs the registered listeners synchronously.
func (p *Progress) Notify() {
	p.mu.Lock()
	listeners := make([]Listener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()
	for _, l := range listeners {
		l(p)
	}
}

// Cancel sets the cancellation flag. The flag is cooperative: the operation
// observes it at its next response boundary.
func (p *Progress) Cancel() {
	p.cancelled.Store(true)
}

// IsCancelled reports whether cancellation was requested.
func (p *Progress) IsCancelled() bool {
	return p.cancelled.Load()
}

// SetCounts overwrites the four counters from a response command set.
func (p *Progress) SetCounts(c dimse.SubOperationCounts) {
	p.remaining.Store(int64(c.Remaining))
	p.completed.Store(int64(c.Completed))
	p.failed.Store(int64(c.Failed))
	p.warning.Store(int64(c.Warning))
}

// IncrementCompleted records one successful sub-operation.
func (p *Progress) IncrementCompleted() { p.completed.Add(1) }

// IncrementFailed records one failed sub-operation.
func (p *Progress) IncrementFailed() { p.failed.Add(1) }

// IncrementWarning records one sub-operation completed with a warning.
func (p *Progress) IncrementWarning() { p.warning.Add(1) }

// SetRemaining stores the count of sub-operations not yet attempted.
func (p *Progress) SetRemaining(n int) { p.remaining.Store(int64(n)) }

// DecrementRemaining records that one queued sub-operation was attempted.
func (p *Progress) DecrementRemaining() {
	if p.remaining.Add(-1) < 0 {
		p.remaining.Store(0)
	}
}

// AddTotalSize accumulates the byte size of transferred objects. Only
// successful and warning transfers count.
func (p *Progress) AddTotalSize(n int64) { p.totalSize.Add(n) }

// Remaining returns the remaining-sub-operations counter.
func (p *Progress) Remaining() int { return int(p.remaining.Load()) }

// Completed returns the completed-sub-operations counter.
func (p *Progress) Completed() int { return int(p.completed.Load()) }

// Failed returns the failed-sub-operations counter.
func (p *Progress) Failed() int { return int(p.failed.Load()) }

// Warning returns the warning-sub-operations counter.
func (p *Progress) Warning() int { return int(p.warning.Load()) }

// TotalSize returns the accumulated transferred byte count.
func (p *Progress) TotalSize() int64 { return p.totalSize.Load() }

// SetProcessedPath records the file most recently handled.
func (p *Progress) SetProcessedPath(path string) {
	p.mu.Lock()
	p.processedPath = path
	p.mu.Unlock()
}

// ProcessedPath returns the file most recently handled.
func (p *Progress) ProcessedPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processedPath
}

// State composes a progress handle with the final DIMSE status of the
// operation and its last diagnostic message.
type State struct {
	mu       sync.Mutex
	progress *Progress
	status   int
	message  string
}

// NewState builds a State around a fresh progress handle.
func NewState() *State {
	return &State{progress: New(), status: int(dimse.StatusPending)}
}

// NewStateWith builds a State around an existing progress handle.
func NewStateWith(p *Progress) *State {
	if p == nil {
		p = New()
	}
	return &State{progress: p, status: int(dimse.StatusPending)}
}

// Progress returns the underlying progress handle.
func (s *State) Progress() *Progress { return s.progress }

// SetStatus records the DIMSE status of the latest terminal response.
func (s *State) SetStatus(status int) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Status returns the recorded DIMSE status.
func (s *State) Status() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetMessage records the last diagnostic message.
func (s *State) SetMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}

// Message returns the last diagnostic message.
func (s *State) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}
