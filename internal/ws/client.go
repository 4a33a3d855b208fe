package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/logowatch/internal/history"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to write the close frame.
	closeWait = time.Second

	// ShutdownGrace bounds how long one session can hold up Hub.Serve once
	// shutdown starts: a Send already in flight plus the close frame.
	ShutdownGrace = writeWait + closeWait

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Client messages are ignored.
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // presentation app may be served elsewhere
	Subprotocols:    []string{ProtocolJSON, ProtocolPNG},
}

// LiveHandler serves the live endpoints on top of a Hub.
type LiveHandler struct {
	hub     *Hub
	log     *history.Log
	catchUp CatchUp
	logger  *zap.Logger
}

// NewLiveHandler creates a LiveHandler.
func NewLiveHandler(hub *Hub, log *history.Log, catchUp CatchUp, logger *zap.Logger) *LiveHandler {
	return &LiveHandler{hub: hub, log: log, catchUp: catchUp, logger: logger}
}

// connSink writes logo states to a websocket connection.
type connSink struct {
	conn     *websocket.Conn
	protocol string
}

func (c *connSink) Send(state history.LogoState) error {
	msgType, data, err := encodeFrame(c.protocol, state)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(msgType, data)
}

func (c *connSink) Ping() error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *connSink) Close(reason Reason) error {
	msg := websocket.FormatCloseMessage(closeCode(reason), string(reason))
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	return c.conn.Close()
}

// HandleWS handles GET /live.
func (l *LiveHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	if l.hub.Closed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	protocol, echo := negotiateProtocol(websocket.Subprotocols(r))
	var responseHeader http.Header
	if echo {
		responseHeader = http.Header{"Sec-WebSocket-Protocol": {protocol}}
	}

	l.logger.Debug("websocket subprotocol negotiated",
		zap.String("protocol", protocol),
		zap.Strings("requested", websocket.Subprotocols(r)),
	)

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		l.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sink := &connSink{conn: conn, protocol: protocol}
	session, err := l.hub.RegisterWithCatchUp(sink, "ws", l.log, l.catchUp)
	if err != nil {
		// Shutdown raced the handshake.
		if errors.Is(err, ErrHubClosed) {
			_ = sink.Close(ReasonShutdown)
			return
		}
		l.logger.Error("registering websocket session", zap.Error(err))
		_ = conn.Close()
		return
	}

	l.logger.Debug("websocket client connected",
		zap.String("connID", session.ID()),
		zap.String("remoteAddr", r.RemoteAddr),
	)
	go l.readPump(session, conn)
}

// readPump discards client messages and reports the disconnect.
func (l *LiveHandler) readPump(s *Session, conn *websocket.Conn) {
	defer l.hub.Unregister(s, ReasonClientGone)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.logger.Debug("websocket read error",
					zap.String("connID", s.ID()),
					zap.Error(err),
				)
			}
			return
		}
	}
}
