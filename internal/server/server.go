// Package server wires the HTTP API: health and single-image inference
// endpoints, plus the two monitor WebSocket endpoints that hand each
// connection its own stream processor.
package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"parkstream/internal/frame"
	"parkstream/internal/gate"
	"parkstream/internal/logger"
	"parkstream/internal/lot"
	"parkstream/internal/metrics"
	"parkstream/internal/session"
	"parkstream/internal/vision"
)

// Cameras push frames from browser clients on other origins, so both the
// REST API and the WS upgrader accept any origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 64 << 10,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const maxUploadBytes = 16 << 20

// Server holds the routing dependencies.
type Server struct {
	gateCfg    gate.Config
	lotCfg     lot.Config
	recognizer vision.PlateRecognizer
	slots      vision.SlotDetector
	registry   *session.Registry
	publisher  session.EventPublisher
	metrics    *metrics.Metrics
}

// Options carries the dependencies for New.
type Options struct {
	GateConfig gate.Config
	LotConfig  lot.Config
	Recognizer vision.PlateRecognizer
	Slots      vision.SlotDetector
	Registry   *session.Registry
	Publisher  session.EventPublisher
	Metrics    *metrics.Metrics
}

// New builds a Server from opts.
func New(opts Options) *Server {
	return &Server{
		gateCfg:    opts.GateConfig,
		lotCfg:     opts.LotConfig,
		recognizer: opts.Recognizer,
		slots:      opts.Slots,
		registry:   opts.Registry,
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/recognize-plate", s.handleRecognizePlate).Methods(http.MethodPost)
	r.HandleFunc("/api/detect-parking-slots", s.handleDetectSlots).Methods(http.MethodPost)
	r.HandleFunc("/ws/gate-monitor", s.handleGateMonitor)
	r.HandleFunc("/ws/lot-monitor", s.handleLotMonitor)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Smart Parking API is running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"active_connections": s.registry.Count(),
	})
}

// handleRecognizePlate runs the plate pipeline over one uploaded image.
func (s *Server) handleRecognizePlate(w http.ResponseWriter, r *http.Request) {
	img, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	plates, err := s.recognizer.RecognizePlates(r.Context(), img)
	if err != nil {
		s.metrics.AdapterErrors.Add(1)
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"plates":          plates,
		"plates_detected": len(plates),
	})
}

// handleDetectSlots runs slot detection over one uploaded image.
func (s *Server) handleDetectSlots(w http.ResponseWriter, r *http.Request) {
	img, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	report, err := s.slots.DetectSlots(r.Context(), img)
	if err != nil {
		s.metrics.AdapterErrors.Add(1)
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"total_slots":    report.TotalSlots,
		"occupied":       report.Occupied,
		"empty":          report.Empty,
		"occupancy_rate": report.OccupancyRate,
		"slots":          report.Slots,
	})
}

// readUpload reads the request body as image bytes and bounds oversized
// frames before inference.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil || len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "empty or unreadable image body"})
		return nil, false
	}
	img, err := frame.Resize(body, frame.MaxWidth, frame.MaxHeight)
	if err != nil {
		s.metrics.DecodeErrors.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "undecodable image"})
		return nil, false
	}
	return img, true
}

// handleGateMonitor upgrades the connection and runs a gate session with a
// fresh processor. Processors are never shared between connections.
func (s *Server) handleGateMonitor(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("server", "gate monitor upgrade failed: %v", err)
		return
	}
	proc := gate.New(s.gateCfg, s.recognizer)
	mon := session.NewGateMonitor(proc, s.publisher, s.metrics)
	session.New(conn, mon, s.registry, s.metrics).Run(r.Context())
}

// handleLotMonitor is the lot-monitor counterpart of handleGateMonitor.
func (s *Server) handleLotMonitor(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("server", "lot monitor upgrade failed: %v", err)
		return
	}
	proc := lot.New(s.lotCfg, s.slots)
	mon := session.NewLotMonitor(proc, s.publisher, s.metrics)
	session.New(conn, mon, s.registry, s.metrics).Run(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("server", "response encode failed: %v", err)
	}
}
