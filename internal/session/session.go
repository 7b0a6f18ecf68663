// Package session runs one goroutine per WebSocket connection: it reads
// frames and control messages, drives the connection's stream processor,
// and writes results back. Processor state is single-writer because only
// the session goroutine touches it.
package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"

	"parkstream/internal/frame"
	"parkstream/internal/logger"
	"parkstream/internal/metrics"
)

// Conn is the transport surface a session needs. *websocket.Conn satisfies
// it; tests substitute a scripted fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Monitor is the processor surface a session drives. The two concrete
// monitors wrap the gate and lot processors.
type Monitor interface {
	// Kind names the monitor in client-facing messages ("gate" or "lot").
	Kind() string
	// ConfigPayload is embedded in the connection-ready message.
	ConfigPayload() map[string]any
	// ProcessFrame returns the payload to send and whether to send one.
	// Skipped frames return (nil, false).
	ProcessFrame(ctx context.Context, data []byte) (any, bool)
	Reset()
	Stats() any
}

// Session ties one connection to one monitor.
type Session struct {
	conn     Conn
	monitor  Monitor
	registry *Registry
	metrics  *metrics.Metrics
}

// New creates a session. registry and m must be non-nil.
func New(conn Conn, monitor Monitor, registry *Registry, m *metrics.Metrics) *Session {
	return &Session{conn: conn, monitor: monitor, registry: registry, metrics: m}
}

// controlMessage carries the dispatch key of client text messages; frame
// payloads under "data" are handled by the frame codec.
type controlMessage struct {
	Type string `json:"type"`
}

// Run registers the session, sends the connection-ready message, and loops
// until the transport fails or the context is done. It always unregisters
// and closes the connection on the way out.
func (s *Session) Run(ctx context.Context) {
	id := s.registry.Add(s)
	s.metrics.TotalSessions.Add(1)
	s.metrics.ActiveSessions.Add(1)
	defer func() {
		s.registry.Remove(id)
		s.metrics.ActiveSessions.Add(^uint64(0))
		s.conn.Close()
	}()

	logger.Info("session", "%s monitor session %s opened", s.monitor.Kind(), id)

	if err := s.conn.WriteJSON(map[string]any{
		"type":    "connection",
		"status":  "connected",
		"message": "Connected to " + s.monitor.Kind() + " monitor",
		"config":  s.monitor.ConfigPayload(),
	}); err != nil {
		logger.Warn("session", "session %s greeting failed: %v", id, err)
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			logger.Info("session", "session %s closed: %v", id, err)
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			s.handleFrame(ctx, data)
		case websocket.TextMessage:
			s.handleText(ctx, data)
		}
	}
}

func (s *Session) handleText(ctx context.Context, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.metrics.ProtocolErrors.Add(1)
		s.sendError("Invalid JSON format")
		return
	}

	switch msg.Type {
	case "reset":
		s.monitor.Reset()
		s.send(map[string]any{
			"type":    "reset_ack",
			"message": s.monitor.Kind() + " monitor state reset",
		})
	case "stats":
		s.send(map[string]any{
			"type": "stats",
			"data": s.monitor.Stats(),
		})
	default:
		raw, err := frame.DecodeEnvelope(data)
		if errors.Is(err, frame.ErrNoData) {
			// Well-formed JSON with neither a known type nor a frame.
			logger.Debug("session", "ignoring control message type %q", msg.Type)
			return
		}
		if err != nil {
			s.metrics.DecodeErrors.Add(1)
			s.sendError("Failed to decode frame: " + err.Error())
			return
		}
		s.handleFrame(ctx, raw)
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	s.metrics.FramesReceived.Add(1)
	payload, ok := s.monitor.ProcessFrame(ctx, data)
	if !ok {
		return
	}
	s.send(payload)
}

func (s *Session) send(v any) {
	if err := s.conn.WriteJSON(v); err != nil {
		logger.Debug("session", "write failed: %v", err)
	}
}

func (s *Session) sendError(msg string) {
	s.send(map[string]any{"type": "error", "error": msg})
}
