package ws

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dgnsrekt/logowatch/internal/history"
)

// Reason records why a session was closed.
type Reason string

const (
	ReasonClientGone   Reason = "client_gone"
	ReasonWriteFailed  Reason = "write_failed"
	ReasonSlowConsumer Reason = "slow_consumer"
	ReasonShutdown     Reason = "shutdown"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateActive State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Sink is the transport a session writes to. All methods are called from
// the session's delivery goroutine only.
type Sink interface {
	Send(state history.LogoState) error
	Ping() error
	Close(reason Reason) error
}

// Session is one live subscriber.
type Session struct {
	id        string
	transport string
	sink      Sink
	queue     chan history.LogoState
	backlog   []history.LogoState

	state      atomic.Int32
	delivered  atomic.Uint64
	registered atomic.Bool

	closeOnce sync.Once
	reason    Reason
	done      chan struct{} // closed when the session leaves the active state
	finished  chan struct{} // closed when the delivery goroutine exits
}

// NewSession creates an unregistered session writing to sink.
func NewSession(sink Sink, transport string, queueSize int) *Session {
	return &Session{
		id:        uuid.New().String(),
		transport: transport,
		sink:      sink,
		queue:     make(chan history.LogoState, queueSize),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
	}
}

func (s *Session) ID() string        { return s.id }
func (s *Session) Transport() string { return s.transport }
func (s *Session) State() State      { return State(s.state.Load()) }
func (s *Session) Delivered() uint64 { return s.delivered.Load() }

// Done is closed once the session stops accepting entries.
func (s *Session) Done() <-chan struct{} { return s.done }

// Finished is closed once the delivery goroutine has exited and the sink is closed.
func (s *Session) Finished() <-chan struct{} { return s.finished }

// Reason returns the close reason, or "" while active.
func (s *Session) Reason() Reason {
	select {
	case <-s.done:
		return s.reason
	default:
		return ""
	}
}

// enqueue offers state without blocking. It returns false when the queue is
// full, in which case the session has already moved to closing.
func (s *Session) enqueue(state history.LogoState) bool {
	if s.State() != StateActive {
		return true
	}
	select {
	case s.queue <- state:
		return true
	default:
		s.state.CompareAndSwap(int32(StateActive), int32(StateClosing))
		return false
	}
}

// close records reason and stops delivery. Only the first call has effect.
func (s *Session) close(reason Reason) bool {
	first := false
	s.closeOnce.Do(func() {
		first = true
		s.reason = reason
		s.state.CompareAndSwap(int32(StateActive), int32(StateClosing))
		close(s.done)
	})
	return first
}
