// Package outbox runs side effects off the caller's goroutine. Each Outbox
// owns one goroutine that executes pushed work in order; when the queue is
// full the oldest pending entry is discarded.
package outbox

import (
	"sync"
	"sync/atomic"
)

// Outbox is a bounded, ordered queue of work drained by a single goroutine.
type Outbox struct {
	mu       sync.Mutex
	pending  []func()
	capacity int
	closed   bool

	notify  chan struct{}
	done    chan struct{}
	dropped atomic.Int64
}

// New starts an outbox holding at most capacity pending entries.
func New(capacity int) *Outbox {
	if capacity < 1 {
		capacity = 1
	}
	o := &Outbox{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go o.run()
	return o
}

// Push queues fn. It returns false once the outbox is closed.
func (o *Outbox) Push(fn func()) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if len(o.pending) >= o.capacity {
		o.pending[0] = nil
		o.pending = o.pending[1:]
		o.dropped.Add(1)
	}
	o.pending = append(o.pending, fn)
	o.mu.Unlock()
	o.wake()
	return true
}

// Close stops accepting work. Entries already queued still run; Done is
// closed after the last one returns.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wake()
}

// Done is closed when the outbox has drained after Close.
func (o *Outbox) Done() <-chan struct{} { return o.done }

// Dropped returns how many entries were discarded because the queue was full.
func (o *Outbox) Dropped() int64 { return o.dropped.Load() }

func (o *Outbox) wake() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *Outbox) pop() (fn func(), closed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pending) == 0 {
		return nil, o.closed
	}
	fn = o.pending[0]
	o.pending[0] = nil
	o.pending = o.pending[1:]
	return fn, false
}

func (o *Outbox) run() {
	defer close(o.done)
	for range o.notify {
		for {
			fn, closed := o.pop()
			if closed {
				return
			}
			if fn == nil {
				break
			}
			fn()
		}
	}
}
