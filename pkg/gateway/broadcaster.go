package gateway

import (
	"github.com/gorilla/websocket"
	"github.com/harun/runcore/pkg/protocol"
	"github.com/rs/zerolog"
)

// encodeOutbound re-validates msg at the transport boundary and encodes it.
// Invalid messages are reported as ok=false and must not be sent.
func encodeOutbound(msg protocol.Message, logger zerolog.Logger) ([]byte, bool) {
	data, err := protocol.Encode(msg)
	if err != nil {
		logger.Error().Err(err).Str("type", string(msg.Kind())).Msg("Failed to encode message")
		return nil, false
	}
	if err := protocol.Validate(data); err != nil {
		logger.Warn().Err(err).Str("type", string(msg.Kind())).Msg("Dropping invalid outbound message")
		return nil, false
	}
	return data, true
}

// pumpWebSocket forwards messages from ch to client until ch closes or a
// write fails.
func pumpWebSocket(client *Client, ch <-chan protocol.Message, logger zerolog.Logger) {
	for msg := range ch {
		data, ok := encodeOutbound(msg, logger)
		if !ok {
			continue
		}
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("type", string(msg.Kind())).
				Msg("Failed to stream to client")
			client.conn.Close()
			return
		}
	}
}
