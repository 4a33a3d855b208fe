// Package ws fans new logo states out to live subscribers over websocket
// and Server-Sent Events.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/logowatch/internal/history"
	"github.com/dgnsrekt/logowatch/internal/metrics"
)

// ErrHubClosed is returned when registering after shutdown has begun.
var ErrHubClosed = errors.New("hub is shut down")

// CatchUp selects which existing entries a new subscriber receives first.
type CatchUp string

const (
	CatchUpNone   CatchUp = "none"
	CatchUpLatest CatchUp = "latest"
	CatchUpAll    CatchUp = "all"
)

// ParseCatchUp validates a catch-up policy name.
func ParseCatchUp(s string) (CatchUp, error) {
	switch c := CatchUp(s); c {
	case CatchUpNone, CatchUpLatest, CatchUpAll:
		return c, nil
	default:
		return "", fmt.Errorf("unknown catch-up policy %q", s)
	}
}

func (c CatchUp) backlog(entries []history.LogoState) []history.LogoState {
	switch {
	case c == CatchUpAll:
		return entries
	case c == CatchUpLatest && len(entries) > 0:
		return entries[len(entries)-1:]
	default:
		return nil
	}
}

// HubConfig configures a Hub.
type HubConfig struct {
	QueueSize  int
	PingPeriod time.Duration
}

// Hub owns the set of live sessions. The registry is only mutated through
// Register, Unregister and Serve.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	closed   bool

	queueSize  int
	pingPeriod time.Duration
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(cfg HubConfig, logger *zap.Logger) *Hub {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = pingPeriod
	}
	return &Hub{
		sessions:   make(map[*Session]struct{}),
		queueSize:  cfg.QueueSize,
		pingPeriod: cfg.PingPeriod,
		logger:     logger,
	}
}

// String names the service for the supervisor.
func (h *Hub) String() string { return "hub" }

// NewSession creates a session sized for this hub.
func (h *Hub) NewSession(sink Sink, transport string) *Session {
	return NewSession(sink, transport, h.queueSize)
}

// Register adds s and starts its delivery goroutine.
func (h *Hub) Register(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	if _, ok := h.sessions[s]; ok {
		return nil
	}
	h.sessions[s] = struct{}{}
	s.registered.Store(true)
	metrics.LiveSessions.Inc()
	h.logger.Debug("session registered",
		zap.String("connID", s.id),
		zap.String("transport", s.transport),
		zap.Int("backlog", len(s.backlog)),
	)

	// The backlog belongs to the delivery goroutine from here on.
	h.wg.Add(1)
	go h.deliver(s)
	return nil
}

// RegisterWithCatchUp registers a new session for sink while holding the
// log's read lock, so the backlog and the live queue neither overlap nor
// leave a gap.
func (h *Hub) RegisterWithCatchUp(sink Sink, transport string, log *history.Log, policy CatchUp) (*Session, error) {
	s := h.NewSession(sink, transport)
	var err error
	log.View(func(entries []history.LogoState) {
		s.backlog = policy.backlog(entries)
		err = h.Register(s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Notify enqueues state for every active session without blocking. Sessions
// whose queue is full are disconnected as slow consumers.
func (h *Hub) Notify(state history.LogoState) {
	var slow []*Session

	h.mu.RLock()
	for s := range h.sessions {
		if !s.enqueue(state) {
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.Unregister(s, ReasonSlowConsumer)
	}
}

// Unregister removes s and stops its delivery goroutine. Safe to call more
// than once; the first reason wins.
func (h *Hub) Unregister(s *Session, reason Reason) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()

	if !s.registered.Load() {
		return
	}
	h.closeSession(s, reason)
}

// Serve blocks until ctx is done, then closes every session and waits for
// their delivery goroutines. Registrations after that fail with ErrHubClosed.
func (h *Hub) Serve(ctx context.Context) error {
	h.logger.Info("hub started")
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	sessions := h.sessions
	h.sessions = make(map[*Session]struct{})
	h.mu.Unlock()

	h.logger.Info("hub shutting down", zap.Int("sessions", len(sessions)))
	for s := range sessions {
		h.closeSession(s, ReasonShutdown)
	}
	h.wg.Wait()
	return ctx.Err()
}

// Count returns the number of registered sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Closed reports whether shutdown has begun.
func (h *Hub) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

func (h *Hub) closeSession(s *Session, reason Reason) {
	if !s.close(reason) {
		return
	}
	metrics.LiveSessions.Dec()
	metrics.LiveDisconnects.WithLabelValues(string(reason)).Inc()
	h.logger.Debug("session unregistered",
		zap.String("connID", s.id),
		zap.String("reason", string(reason)),
		zap.Uint64("delivered", s.Delivered()),
	)
}

// deliver drains the backlog, then the live queue, into the sink.
func (h *Hub) deliver(s *Session) {
	defer h.wg.Done()
	defer close(s.finished)

	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	defer func() {
		if err := s.sink.Close(s.reason); err != nil {
			h.logger.Debug("closing session sink", zap.String("connID", s.id), zap.Error(err))
		}
		s.state.Store(int32(StateClosed))
	}()

	for _, state := range s.backlog {
		select {
		case <-s.done:
			return
		default:
		}
		if !h.send(s, state) {
			return
		}
	}

	for {
		// A closing session delivers nothing further, even with entries queued.
		select {
		case <-s.done:
			return
		default:
		}

		select {
		case <-s.done:
			return
		case state := <-s.queue:
			if !h.send(s, state) {
				return
			}
		case <-ticker.C:
			if err := s.sink.Ping(); err != nil {
				h.Unregister(s, ReasonWriteFailed)
				return
			}
		}
	}
}

func (h *Hub) send(s *Session, state history.LogoState) bool {
	if err := s.sink.Send(state); err != nil {
		h.logger.Debug("session write failed",
			zap.String("connID", s.id),
			zap.Int("index", state.Index),
			zap.Error(err),
		)
		h.Unregister(s, ReasonWriteFailed)
		return false
	}
	s.delivered.Add(1)
	metrics.LiveDelivered.Inc()
	return true
}
