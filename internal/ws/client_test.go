package ws

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/logowatch/internal/history"
)

func newLiveServer(t *testing.T, policy CatchUp) (*Hub, *history.Log, *httptest.Server, context.CancelFunc) {
	t.Helper()
	hub, log, stop := newTestHub(t, 16)
	live := NewLiveHandler(hub, log, policy, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("/live", live.HandleWS)
	mux.HandleFunc("/live/events", live.HandleSSE)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return hub, log, server, stop
}

func dial(t *testing.T, server *httptest.Server, protocols ...string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: protocols, HandshakeTimeout: 2 * time.Second}
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/live"
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestLiveWS_JSONFramesInOrder(t *testing.T) {
	hub, log, server, _ := newLiveServer(t, CatchUpNone)

	conn := dial(t, server)
	if conn.Subprotocol() != "" {
		t.Errorf("expected no echoed subprotocol, got %q", conn.Subprotocol())
	}
	waitFor(t, "registration", func() bool { return hub.Count() == 1 })

	appendN(log, 0, 3)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 3; i++ {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if msgType != websocket.TextMessage {
			t.Errorf("expected text frame, got %d", msgType)
		}
		var state history.LogoState
		if err := json.Unmarshal(data, &state); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		want, _ := log.Get(i)
		if state.Fingerprint != want.Fingerprint {
			t.Errorf("frame %d does not match history entry %d", i, i)
		}
	}
}

func TestLiveWS_PNGProtocolWithCatchUp(t *testing.T) {
	hub, log, server, _ := newLiveServer(t, CatchUpLatest)
	appendN(log, 0, 2)

	conn := dial(t, server, "unknown.v1", ProtocolPNG)
	if conn.Subprotocol() != ProtocolPNG {
		t.Fatalf("expected %s, got %q", ProtocolPNG, conn.Subprotocol())
	}
	waitFor(t, "registration", func() bool { return hub.Count() == 1 })
	appendN(log, 2, 1)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, idx := range []int{1, 2} {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if msgType != websocket.BinaryMessage {
			t.Errorf("expected binary frame, got %d", msgType)
		}
		want, _ := log.Get(idx)
		if !bytes.Equal(data, want.Image) {
			t.Errorf("expected image of entry %d, got %q", idx, data)
		}
	}
}

func TestLiveWS_ClientDisconnectUnregisters(t *testing.T) {
	hub, _, server, _ := newLiveServer(t, CatchUpNone)

	conn := dial(t, server)
	waitFor(t, "registration", func() bool { return hub.Count() == 1 })

	_ = conn.Close()
	waitFor(t, "unregistration", func() bool { return hub.Count() == 0 })
}

func TestLiveWS_ShutdownSendsGoingAway(t *testing.T) {
	hub, _, server, stop := newLiveServer(t, CatchUpNone)

	conn := dial(t, server)
	waitFor(t, "registration", func() bool { return hub.Count() == 1 })

	stop()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/live"
	_, resp, err := dialer.Dial(url, nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected bad handshake after shutdown, got %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestLiveSSE_StreamsEvents(t *testing.T) {
	hub, log, server, stop := newLiveServer(t, CatchUpLatest)
	appendN(log, 0, 1)

	resp, err := http.Get(server.URL + "/live/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}
	waitFor(t, "registration", func() bool { return hub.Count() == 1 })
	appendN(log, 1, 1)

	reader := bufio.NewReader(resp.Body)
	for _, idx := range []int{0, 1} {
		event := readEvent(t, reader)
		if event["event"] != "logo" {
			t.Errorf("expected logo event, got %q", event["event"])
		}
		var state history.LogoState
		if err := json.Unmarshal([]byte(event["data"]), &state); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		want, _ := log.Get(idx)
		if state.Fingerprint != want.Fingerprint {
			t.Errorf("event does not match entry %d", idx)
		}
	}

	stop()
	if event := readEvent(t, reader); event["event"] != "close" || !strings.Contains(event["data"], "shutdown") {
		t.Errorf("expected shutdown close event, got %v", event)
	}
}

// readEvent reads one SSE record, skipping comments.
func readEvent(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	event := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && len(event) > 0:
			return event
		case line == "", strings.HasPrefix(line, ":"):
			continue
		}
		if k, v, ok := strings.Cut(line, ": "); ok {
			event[k] = v
		}
	}
}

func TestLiveSSE_RegistrationRacingShutdownSendsCloseEvent(t *testing.T) {
	hub, log, stop := newTestHub(t, 16)
	live := NewLiveHandler(hub, log, CatchUpAll, zap.NewNop())
	appendN(log, 0, 2)

	// Shut down after the handler's Closed check would have passed.
	stop()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/live/events", nil)
	live.streamSSE(rec, req, rec)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected committed 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}
	ev := readEvent(t, bufio.NewReader(rec.Body))
	if ev["event"] != "close" || !strings.Contains(ev["data"], string(ReasonShutdown)) {
		t.Errorf("expected shutdown close event, got %v", ev)
	}
	if hub.Count() != 0 {
		t.Errorf("expected no sessions, got %d", hub.Count())
	}
}
