package ws

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/logowatch/internal/history"
)

// Websocket subprotocols. JSON is the default when none is requested.
const (
	ProtocolJSON = "logo.json.v1"
	ProtocolPNG  = "logo.png.v1"
)

// negotiateProtocol picks the first supported protocol the client offered.
// It returns the protocol in use and whether it should be echoed back.
func negotiateProtocol(requested []string) (string, bool) {
	for _, proto := range requested {
		switch proto {
		case ProtocolJSON, ProtocolPNG:
			return proto, true
		}
	}
	return ProtocolJSON, false
}

// encodeFrame builds the websocket message for state under protocol.
func encodeFrame(protocol string, state history.LogoState) (int, []byte, error) {
	if protocol == ProtocolPNG {
		return websocket.BinaryMessage, state.Image, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding frame: %w", err)
	}
	return websocket.TextMessage, data, nil
}

// closeCode maps a session close reason to a websocket close code.
func closeCode(reason Reason) int {
	switch reason {
	case ReasonSlowConsumer:
		return websocket.ClosePolicyViolation
	case ReasonShutdown:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseNormalClosure
	}
}

// formatEvent builds one Server-Sent Events record.
func formatEvent(event string, id int, data []byte) []byte {
	return []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", event, id, data))
}
