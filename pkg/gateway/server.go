package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/runcore/internal/observability"
	"github.com/harun/runcore/internal/tracing"
	"github.com/harun/runcore/pkg/protocol"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	writeTimeout     = 10 * time.Second
	defaultBuffer    = 256
	shutdownTimeout  = 5 * time.Second
	maxInboundFrame  = 1 << 20
	transportWS      = "websocket"
	transportSSE     = "sse"
	methodStartRun   = "run"
	methodAbortRun   = "abort"
	eventFrameError  = "error"
	eventRunAccepted = "run.accepted"
	eventAbortResult = "abort.result"
)

// Server streams runtime messages to control surfaces over WebSocket and
// server-sent events.
type Server struct {
	addr        string
	server      *http.Server
	listener    net.Listener
	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	authHandler *AuthHandler
	bus         Subscriber
	controller  Controller
	buffer      int
	logger      zerolog.Logger

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	done           chan struct{}
	connWG         sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Addr         string
	SharedSecret string
	Bus          Subscriber
	Controller   Controller
	Buffer       int
	Logger       zerolog.Logger
}

// NewServer creates a new gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Bus == nil {
		return nil, errors.New("message bus is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7420"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	observability.EnsureRegistered()

	return &Server{
		addr:        cfg.Addr,
		clients:     NewClientRegistry(),
		authHandler: NewAuthHandler(cfg.SharedSecret),
		bus:         cfg.Bus,
		controller:  cfg.Controller,
		buffer:      cfg.Buffer,
		done:        make(chan struct{}),
		logger:      cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Handler returns the HTTP routes of the gateway.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.authHandler.Middleware(s.handleWebSocket))
	mux.HandleFunc("/events", s.authHandler.Middleware(s.handleEvents))
	mux.HandleFunc("/clients", s.authHandler.Middleware(s.handleClients))
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop closes every client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	if !s.isShuttingDown {
		s.isShuttingDown = true
		close(s.done)
	}
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	for _, client := range s.clients.GetAll() {
		if client.conn != nil {
			client.writeMu.Lock()
			_ = client.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second),
			)
			client.writeMu.Unlock()
			client.conn.Close()
		}
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}
	s.connWG.Wait()

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// Clients returns information about connected stream clients.
func (s *Server) Clients() []ClientInfo {
	return s.clients.Infos()
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) newClient(r *http.Request, transport string) *Client {
	clientID, err := gonanoid.New()
	if err != nil {
		clientID = tracing.NewTraceID()
	}
	return &Client{
		ID:          clientID,
		Transport:   transport,
		Session:     strings.TrimSpace(r.URL.Query().Get("session")),
		ConnectedAt: time.Now(),
		IPAddress:   r.RemoteAddr,
	}
}

// handleWebSocket streams messages for ?session= (all sessions when empty)
// and accepts control frames from the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(maxInboundFrame)

	client := s.newClient(r, transportWS)
	client.conn = conn
	s.clients.Add(client)

	ch, cancel := s.bus.Subscribe(client.Session, s.buffer)

	s.logger.Info().
		Str("clientId", client.ID).
		Str("session", client.Session).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	s.connWG.Add(2)
	go func() {
		defer s.connWG.Done()
		pumpWebSocket(client, ch, s.logger)
	}()
	go func() {
		defer s.connWG.Done()
		defer func() {
			cancel()
			conn.Close()
			s.clients.Remove(client.ID)
			s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
		}()
		s.readLoop(client)
	}()
}

func (s *Server) readLoop(client *Client) {
	for {
		_, frame, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}
		s.handleFrame(client, frame)
	}
}

// handleFrame accepts either a control frame ({"method":"abort"}) or a
// runtime message. Only manual_plan_update is accepted from clients.
func (s *Server) handleFrame(client *Client, frame []byte) {
	var control ControlFrame
	if err := json.Unmarshal(frame, &control); err == nil && control.Method != "" {
		s.handleControl(client, control)
		return
	}

	msg, err := protocol.Decode(frame)
	if err != nil {
		s.sendFrame(client, ErrorFrame{Event: eventFrameError, Message: err.Error()})
		return
	}
	manual, ok := msg.(protocol.ManualPlanUpdate)
	if !ok {
		s.sendFrame(client, ErrorFrame{Event: eventFrameError, Message: fmt.Sprintf("clients may not send %s", msg.Kind())})
		return
	}
	if client.Session != "" && manual.SessionID != client.Session {
		observability.RecordControlAudit(context.Background(), "manual_plan", client.ID, "rejected", map[string]any{"run_id": manual.RunID, "session_id": manual.SessionID, "error": "session mismatch"})
		s.sendFrame(client, ErrorFrame{Event: eventFrameError, Message: fmt.Sprintf("client is bound to session %s", client.Session)})
		return
	}
	if s.controller == nil {
		s.sendFrame(client, ErrorFrame{Event: eventFrameError, Message: "no run controller configured"})
		return
	}
	if err := s.controller.ApplyManualPlan(context.Background(), manual); err != nil {
		observability.RecordControlAudit(context.Background(), "manual_plan", client.ID, "rejected", map[string]any{"run_id": manual.RunID, "error": err.Error()})
		s.sendFrame(client, ErrorFrame{Event: eventFrameError, Message: err.Error()})
		return
	}
	observability.RecordControlAudit(context.Background(), "manual_plan", client.ID, "accepted", map[string]any{"run_id": manual.RunID, "steps": len(manual.Steps)})
}

func (s *Server) handleControl(client *Client, control ControlFrame) {
	switch control.Method {
	case methodStartRun:
		if s.controller == nil {
			s.sendFrame(client, ErrorFrame{Event: eventFrameError, Message: "no run controller configured"})
			return
		}
		sessionID := control.SessionID
		if sessionID == "" {
			sessionID = client.Session
		}
		runID, err := s.controller.StartRun(control.Prompt, sessionID)
		if err != nil {
			observability.RecordControlAudit(context.Background(), methodStartRun, client.ID, "rejected", map[string]any{"session_id": sessionID, "error": err.Error()})
			s.sendFrame(client, ErrorFrame{Event: eventFrameError, Message: err.Error()})
			return
		}
		observability.RecordControlAudit(context.Background(), methodStartRun, client.ID, "accepted", map[string]any{"session_id": sessionID, "run_id": runID})
		s.logger.Info().
			Str("clientId", client.ID).
			Str("run_id", runID).
			Msg("Run started")
		s.sendFrame(client, map[string]any{"event": eventRunAccepted, "runId": runID})
	case methodAbortRun:
		aborted := false
		if s.controller != nil && control.RunID != "" {
			aborted = s.controller.Abort(control.RunID)
		}
		s.logger.Info().
			Str("clientId", client.ID).
			Str("run_id", control.RunID).
			Bool("aborted", aborted).
			Msg("Abort requested")
		status := "rejected"
		if aborted {
			status = "accepted"
		}
		observability.RecordControlAudit(context.Background(), methodAbortRun, client.ID, status, map[string]any{"run_id": control.RunID})
		s.sendFrame(client, map[string]any{"event": eventAbortResult, "runId": control.RunID, "aborted": aborted})
	default:
		s.sendFrame(client, ErrorFrame{Event: eventFrameError, Message: fmt.Sprintf("unknown method %q", control.Method)})
	}
}

func (s *Server) sendFrame(client *Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send frame")
	}
}

// handleEvents streams messages as server-sent events, one event per
// message named after its type.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	client := s.newClient(r, transportSSE)
	s.clients.Add(client)
	defer s.clients.Remove(client.ID)

	ch, cancel := s.bus.Subscribe(client.Session, s.buffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: connected\ndata: {\"clientId\":%q}\n\n", client.ID)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data, valid := encodeOutbound(msg, s.logger)
			if !valid {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Kind(), data); err != nil {
				return
			}
			flusher.Flush()
			client.writeMu.Lock()
			client.sent++
			client.writeMu.Unlock()
		}
	}
}

func (s *Server) handleClients(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.clients.Infos()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode client list")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(Health{Status: "ok", Clients: s.clients.Count()}); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode health")
	}
}
