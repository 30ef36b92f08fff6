package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/runcore/pkg/bus"
	"github.com/harun/runcore/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubController struct {
	mu      sync.Mutex
	started []string
	aborted []string
	plans   []protocol.ManualPlanUpdate
	planErr error
}

func (c *stubController) StartRun(prompt, sessionID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prompt == "" {
		return "", errors.New("prompt cannot be empty")
	}
	c.started = append(c.started, sessionID+":"+prompt)
	return "run-new", nil
}

func (c *stubController) Abort(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = append(c.aborted, runID)
	return runID == "run-live"
}

func (c *stubController) ApplyManualPlan(_ context.Context, msg protocol.ManualPlanUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans = append(c.plans, msg)
	return c.planErr
}

func newTestGateway(t *testing.T, secret string, controller Controller) (*Server, *bus.Bus, *httptest.Server) {
	t.Helper()
	b := bus.New(zerolog.Nop())
	srv, err := NewServer(Config{
		SharedSecret: secret,
		Bus:          b,
		Controller:   controller,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, b, ts
}

func dial(t *testing.T, ts *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func status(runID, sessionID string) protocol.Message {
	return protocol.RunWarning{
		Envelope: protocol.NewEnvelope(runID, sessionID, "", time.Now()),
		Message:  "hello " + runID,
	}
}

func TestNewServerRequiresBus(t *testing.T) {
	_, err := NewServer(Config{Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestWebSocketStreamsSessionMessages(t *testing.T) {
	_, b, ts := newTestGateway(t, "", nil)
	conn := dial(t, ts, "?session=s1", nil)

	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Publish(status("r-other", "s2")))
	require.NoError(t, b.Publish(status("r1", "s1")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeRunWarning, msg.Kind())
	assert.Equal(t, "r1", msg.Header().RunID)
}

func TestWebSocketRequiresSecret(t *testing.T) {
	_, _, ts := newTestGateway(t, "s3cret", nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set(SecretHeader, "s3cret")
	conn := dial(t, ts, "", header)
	assert.NotNil(t, conn)

	conn2 := dial(t, ts, "?token=s3cret", nil)
	assert.NotNil(t, conn2)
}

func TestWebSocketControlFrames(t *testing.T) {
	controller := &stubController{}
	_, _, ts := newTestGateway(t, "", controller)
	conn := dial(t, ts, "", nil)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	require.NoError(t, conn.WriteJSON(ControlFrame{Method: "abort", RunID: "run-live"}))
	var result map[string]any
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, "abort.result", result["event"])
	assert.Equal(t, true, result["aborted"])

	require.NoError(t, conn.WriteJSON(ControlFrame{Method: "run", Prompt: "check mail", SessionID: "s2"}))
	var accepted map[string]any
	require.NoError(t, conn.ReadJSON(&accepted))
	assert.Equal(t, "run.accepted", accepted["event"])
	assert.Equal(t, "run-new", accepted["runId"])

	require.NoError(t, conn.WriteJSON(ControlFrame{Method: "run"}))
	var rejected ErrorFrame
	require.NoError(t, conn.ReadJSON(&rejected))
	assert.Equal(t, "prompt cannot be empty", rejected.Message)

	controller.mu.Lock()
	assert.Equal(t, []string{"s2:check mail"}, controller.started)
	controller.mu.Unlock()

	manual := protocol.ManualPlanUpdate{
		Envelope: protocol.NewEnvelope("run-live", "s1", "", time.Now()),
		Steps:    []protocol.ManualStep{{Title: "check inbox"}},
	}
	data, err := protocol.Encode(manual)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	require.Eventually(t, func() bool {
		controller.mu.Lock()
		defer controller.mu.Unlock()
		return len(controller.plans) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(ControlFrame{Method: "reboot"}))
	var frame ErrorFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame.Event)
	assert.Contains(t, frame.Message, "reboot")
}

func TestWebSocketManualPlanBoundToSession(t *testing.T) {
	controller := &stubController{}
	_, _, ts := newTestGateway(t, "", controller)
	conn := dial(t, ts, "?session=s1", nil)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	send := func(sessionID string) {
		data, err := protocol.Encode(protocol.ManualPlanUpdate{
			Envelope: protocol.NewEnvelope("run-live", sessionID, "", time.Now()),
			Steps:    []protocol.ManualStep{{Title: "check inbox"}},
		})
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	}

	send("s2")
	var frame ErrorFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame.Event)
	assert.Equal(t, "client is bound to session s1", frame.Message)

	send("s1")
	require.Eventually(t, func() bool {
		controller.mu.Lock()
		defer controller.mu.Unlock()
		return len(controller.plans) == 1
	}, time.Second, 5*time.Millisecond)

	controller.mu.Lock()
	assert.Equal(t, "s1", controller.plans[0].SessionID)
	controller.mu.Unlock()
}

func TestWebSocketRejectsOtherClientMessages(t *testing.T) {
	controller := &stubController{planErr: errors.New("no such run")}
	_, _, ts := newTestGateway(t, "", controller)
	conn := dial(t, ts, "", nil)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	data, err := protocol.Encode(status("r1", "s1"))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	var frame ErrorFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Contains(t, frame.Message, "run_warning")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"run_error"}`)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Contains(t, frame.Message, "invalid runtime message")
}

func TestEventsStreamsSSE(t *testing.T) {
	_, b, ts := newTestGateway(t, "", nil)

	resp, err := http.Get(ts.URL + "/events?session=s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Publish(status("r1", "s1")))

	scanner := bufio.NewScanner(resp.Body)
	var events []string
	var payload string
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			events = append(events, name)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok && len(events) == 2 {
			payload = data
			break
		}
	}

	assert.Equal(t, []string{"connected", "run_warning"}, events)
	assert.True(t, protocol.IsValidMessage([]byte(payload)))
}

func TestHealthAndClients(t *testing.T) {
	srv, b, ts := newTestGateway(t, "", nil)

	health := func() Health {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var h Health
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
		return h
	}
	assert.Equal(t, Health{Status: "ok", Clients: 0}, health())

	dial(t, ts, "?session=s9", nil)
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Health{Status: "ok", Clients: 1}, health())

	resp, err := http.Get(ts.URL + "/clients")
	require.NoError(t, err)
	defer resp.Body.Close()

	var infos []ClientInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "s9", infos[0].Session)
	assert.Equal(t, "websocket", infos[0].Transport)
	assert.Len(t, srv.Clients(), 1)
}

func TestStartStop(t *testing.T) {
	b := bus.New(zerolog.Nop())
	srv, err := NewServer(Config{Addr: "127.0.0.1:0", Bus: b, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	url := "ws://" + srv.Addr() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Stop(context.Background()))
	assert.Equal(t, 0, b.Subscribers())
}
