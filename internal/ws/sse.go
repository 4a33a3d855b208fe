package ws

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/dgnsrekt/logowatch/internal/history"
)

// sseSink writes logo states as Server-Sent Events.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func (s *sseSink) write(data []byte) error {
	return s.writeWithin(data, writeWait)
}

func (s *sseSink) writeWithin(data []byte, wait time.Duration) error {
	_ = s.rc.SetWriteDeadline(time.Now().Add(wait))
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Send(state history.LogoState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return s.write(formatEvent("logo", state.Index, data))
}

func (s *sseSink) Ping() error {
	return s.write([]byte(": ping\n\n"))
}

func (s *sseSink) Close(reason Reason) error {
	if reason == ReasonWriteFailed || reason == ReasonClientGone {
		return nil
	}
	return s.writeWithin([]byte(fmt.Sprintf("event: close\ndata: {\"reason\":%q}\n\n", reason)), closeWait)
}

// HandleSSE handles GET /live/events.
func (l *LiveHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if l.hub.Closed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	l.streamSSE(w, r, flusher)
}

// streamSSE commits the event stream and serves it until the client leaves
// or the session ends. If shutdown wins the race with registration, the
// stream carries a single close event instead of ending silently.
func (l *LiveHandler) streamSSE(w http.ResponseWriter, r *http.Request, flusher http.Flusher) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseSink{w: w, flusher: flusher, rc: http.NewResponseController(w)}
	session, err := l.hub.RegisterWithCatchUp(sink, "sse", l.log, l.catchUp)
	if err != nil {
		l.logger.Debug("sse registration refused", zap.Error(err))
		if errors.Is(err, ErrHubClosed) {
			_ = sink.Close(ReasonShutdown)
		}
		return
	}

	l.logger.Debug("sse client connected",
		zap.String("connID", session.ID()),
		zap.String("remoteAddr", r.RemoteAddr),
	)

	select {
	case <-r.Context().Done():
		l.hub.Unregister(session, ReasonClientGone)
		<-session.Finished()
	case <-session.Finished():
	}
}
