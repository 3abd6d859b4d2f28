package realtime

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle of a subscription: Connecting → Open → Closed.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Subscription is one live observer of a session. Outbound messages go
// through a bounded queue that drops the oldest entry when full.
type Subscription struct {
	ID        string
	SessionID string

	hub       *Hub
	transport Transport
	state     atomic.Int32
	lastSeen  atomic.Int64
	dropped   atomic.Int64

	mu       sync.Mutex
	queue    [][]byte
	capacity int

	notify          chan struct{}
	closed          chan struct{}
	closeOnce       sync.Once
	closeAfterFlush atomic.Bool
}

// State returns the current state.
func (s *Subscription) State() State { return State(s.state.Load()) }

// LastSeen returns the time of the last liveness signal.
func (s *Subscription) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Dropped returns how many messages were discarded because the queue was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.closed }

// Send queues v for this subscriber only.
func (s *Subscription) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.enqueue(data)
	return nil
}

func (s *Subscription) enqueue(data []byte) {
	if s.State() == StateClosed {
		return
	}
	s.mu.Lock()
	if len(s.queue) >= s.capacity {
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.dropped.Add(1)
	}
	s.queue = append(s.queue, data)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	data := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return data
}

// endWith queues a final message and closes the subscription once it is
// written, or after closeGrace if the transport stalls.
func (s *Subscription) endWith(data []byte) {
	s.enqueue(data)
	s.closeAfterFlush.Store(true)
	s.wake()
	time.AfterFunc(closeGrace, s.shutdown)
}

// writeLoop is the only goroutine writing to the transport.
func (s *Subscription) writeLoop() {
	ticker := time.NewTicker(s.hub.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-s.notify:
			for data := s.pop(); data != nil; data = s.pop() {
				if err := s.transport.WriteMessage(data); err != nil {
					s.hub.logger.Debug("push write failed", zap.Error(err), zap.String("subscription_id", s.ID))
					s.hub.Unsubscribe(s)
					return
				}
			}
			if s.closeAfterFlush.Load() {
				s.shutdown()
				return
			}
		case <-ticker.C:
			if err := s.transport.Ping(); err != nil {
				s.hub.logger.Debug("push ping failed", zap.Error(err), zap.String("subscription_id", s.ID))
				s.hub.Unsubscribe(s)
				return
			}
		}
	}
}

func (s *Subscription) shutdown() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.closed)
		_ = s.transport.Close()
	})
}
