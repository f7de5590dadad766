package output

import "sync/atomic"

// DefaultMaxPending is the unacknowledged byte budget of a session.
const DefaultMaxPending = 100_000

// FlowControl is the per-session credit record: bytes emitted to the renderer
// and not yet acknowledged.
type FlowControl struct {
	pending atomic.Int64
	max     int64
	credit  chan struct{}
}

// NewFlowControl returns a record with the given budget (DefaultMaxPending
// when max <= 0).
func NewFlowControl(max int) *FlowControl {
	if max <= 0 {
		max = DefaultMaxPending
	}
	return &FlowControl{max: int64(max), credit: make(chan struct{}, 1)}
}

// Add records n emitted bytes.
func (f *FlowControl) Add(n int) {
	if n <= 0 {
		return
	}
	f.pending.Add(int64(n))
}

// Ack releases n acknowledged bytes, saturating at zero, and wakes a reader
// waiting for credit.
func (f *FlowControl) Ack(n int) {
	if n <= 0 {
		return
	}
	for {
		cur := f.pending.Load()
		next := cur - int64(n)
		if next < 0 {
			next = 0
		}
		if f.pending.CompareAndSwap(cur, next) {
			break
		}
	}
	select {
	case f.credit <- struct{}{}:
	default:
	}
}

// Credit returns a channel that receives after an Ack. Only one waiter is
// woken per signal.
func (f *FlowControl) Credit() <-chan struct{} {
	return f.credit
}

// Pending returns the unacknowledged byte count.
func (f *FlowControl) Pending() int {
	return int(f.pending.Load())
}

// Max returns the budget.
func (f *FlowControl) Max() int {
	return int(f.max)
}

// Blocked reports whether the reader must hold off.
func (f *FlowControl) Blocked() bool {
	return f.pending.Load() > f.max
}
