package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/runcore/pkg/protocol"
)

// Subscriber is the read side of the message bus.
type Subscriber interface {
	Subscribe(sessionID string, buffer int) (<-chan protocol.Message, func())
}

// Controller accepts control requests from clients.
type Controller interface {
	// StartRun launches a run in the background and returns its id.
	StartRun(prompt, sessionID string) (string, error)
	Abort(runID string) bool
	ApplyManualPlan(ctx context.Context, msg protocol.ManualPlanUpdate) error
}

// Health is the body served on /healthz.
type Health struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

// ClientInfo describes a connected stream client.
type ClientInfo struct {
	ID          string    `json:"id"`
	Transport   string    `json:"transport"`
	Session     string    `json:"session,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
	IPAddress   string    `json:"ipAddress"`
	Sent        int64     `json:"sent"`
}

// Client is one stream consumer. WebSocket clients carry a connection;
// SSE clients do not.
type Client struct {
	ID          string
	Transport   string
	Session     string
	ConnectedAt time.Time
	IPAddress   string

	conn    *websocket.Conn
	writeMu sync.Mutex
	sent    int64
}

// WriteMessage serializes writes to the client's connection.
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return err
	}
	c.sent++
	return nil
}

// ControlFrame is a client-to-server frame that is not a runtime message.
type ControlFrame struct {
	Method    string `json:"method"`
	RunID     string `json:"runId,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// ErrorFrame reports a rejected client frame.
type ErrorFrame struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
