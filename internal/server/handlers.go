package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/dgnsrekt/logowatch/internal/history"
	"github.com/dgnsrekt/logowatch/internal/logo"
	"github.com/dgnsrekt/logowatch/internal/poller"
	"github.com/dgnsrekt/logowatch/internal/ws"
)

// LogoSource exposes the latest fetched logo and poll status.
type LogoSource interface {
	Latest() (*logo.Logo, bool)
	Status() poller.Status
}

type Server struct {
	log    *history.Log
	hub    *ws.Hub
	live   *ws.LiveHandler
	logos  LogoSource
	logger *zap.Logger
}

func NewServer(log *history.Log, hub *ws.Hub, live *ws.LiveHandler, logos LogoSource, logger *zap.Logger) *Server {
	return &Server{
		log:    log,
		hub:    hub,
		live:   live,
		logos:  logos,
		logger: logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status      string        `json:"status"`
	History     int           `json:"history"`
	Total       int           `json:"total"`
	Subscribers int           `json:"subscribers"`
	Poll        poller.Status `json:"poll"`
}

// getHistory handles GET /history
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	entries := s.log.Snapshot()

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		if limit < len(entries) {
			entries = entries[:limit]
		}
	}

	s.logger.Debug("history request", zap.Int("entries", len(entries)))
	s.writeJSON(w, http.StatusOK, entries)
}

// getLogoPNG handles GET /logo.png
func (s *Server) getLogoPNG(w http.ResponseWriter, r *http.Request) {
	opts, err := parseRenderOptions(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	l, ok := s.logos.Latest()
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no logo fetched yet"})
		return
	}

	data, err := l.PNG(opts)
	switch {
	case errors.Is(err, logo.ErrUnknownCharacter):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, logo.ErrInvalidOptions):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case err != nil:
		s.logger.Error("rendering logo", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "render failed"})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

// getHealth handles GET /health
func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	poll := s.logos.Status()
	status := "ok"
	switch {
	case s.hub.Closed():
		status = "shutting_down"
	case poll.Circuit != "closed":
		status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:      status,
		History:     s.log.Len(),
		Total:       s.log.Total(),
		Subscribers: s.hub.Count(),
		Poll:        poll,
	})
}

func parseRenderOptions(r *http.Request) (logo.Options, error) {
	opts := logo.DefaultOptions()
	q := r.URL.Query()

	if raw := q.Get("size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return opts, errors.New("size must be an integer")
		}
		opts.Size = size
	}
	if raw := q.Get("character"); raw != "" {
		c, err := strconv.Atoi(raw)
		if err != nil {
			return opts, errors.New("character must be an integer")
		}
		opts.Character = c
	}
	if raw := q.Get("crop"); raw != "" {
		crop, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, errors.New("crop must be a boolean")
		}
		opts.Crop = crop
	}
	return opts, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}
