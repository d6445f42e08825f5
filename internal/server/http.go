package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/audio"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/broadcast"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/config"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/metrics"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/session"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/store"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/transcription"
)

// Server is the HTTP API front end for the capture pipeline.
type Server struct {
	cfg         *config.Config
	controller  *session.Controller
	broadcaster *broadcast.Broadcaster
	store       *store.Store
	client      *transcription.Client // nil when stats are unavailable
	logger      *slog.Logger
	metrics     *metrics.Metrics

	httpServer *http.Server
	startedAt  time.Time
}

// New creates the API server. The client may be nil; /stats then omits
// engine statistics.
func New(cfg *config.Config, controller *session.Controller, b *broadcast.Broadcaster, st *store.Store, client *transcription.Client, logger *slog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		controller:  controller,
		broadcaster: b,
		store:       st,
		client:      client,
		logger:      logger,
		metrics:     m,
		startedAt:   time.Now(),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /config", s.handleConfig)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /transcriptions", s.handleTranscriptions)
	mux.HandleFunc("POST /start_capture", s.handleStartCapture)
	mux.HandleFunc("POST /stop_capture", s.handleStopCapture)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", s.cfg.HTTP.Address, s.cfg.HTTP.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.withMetrics(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("HTTP server starting", "address", addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("HTTP server stopping")
	return s.httpServer.Shutdown(ctx)
}

// responseWriter captures the status code for logging and metrics.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket upgrades need the raw ResponseWriter for hijacking.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(r.URL.Path, r.Method, rw.status, elapsed)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", elapsed.Milliseconds())
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "audio-transcribe",
		"endpoints": []string{
			"/health", "/status", "/config", "/stats", "/transcriptions",
			"/start_capture", "/stop_capture", "/ws", "/metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.controller.Status()
	resp := map[string]any{
		"state":       status.State,
		"session_id":  status.SessionID,
		"started_at":  startedAtOrNil(status),
		"device":      deviceOrNil(status.Device),
		"stats":       status.Stats,
		"subscribers": s.broadcaster.SubscriberCount(),
	}
	if status.LastError != "" {
		resp["last_error"] = status.LastError
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func startedAtOrNil(status session.Status) any {
	if status.StartedAt.IsZero() {
		return nil
	}
	return status.StartedAt
}

func deviceOrNil(d audio.DeviceInfo) any {
	if d == (audio.DeviceInfo{}) {
		return nil
	}
	return d
}

// handleConfig reports the effective configuration with secrets removed.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"audio": map[string]any{
			"device":           s.cfg.Audio.Device,
			"prefer_loopback":  s.cfg.Audio.PreferLoopback,
			"sample_rate":      s.cfg.Audio.SampleRate,
			"frame_size":       s.cfg.Audio.FrameSize,
			"chunk_duration":   s.cfg.Audio.ChunkDuration,
			"overlap_duration": s.cfg.Audio.OverlapDuration,
		},
		"gate": map[string]any{
			"rms_threshold":  s.cfg.Gate.RMSThreshold,
			"peak_threshold": s.cfg.Gate.PeakThreshold,
		},
		"transcription": map[string]any{
			"endpoint":         s.cfg.Transcription.Endpoint,
			"language":         s.cfg.Transcription.Language,
			"model":            s.cfg.Transcription.Model,
			"max_concurrent":   s.cfg.Transcription.MaxConcurrent,
			"queue_size":       s.cfg.Transcription.QueueSize,
			"confidence_floor": s.cfg.Transcription.ConfidenceFloor,
		},
		"store": map[string]any{
			"enabled": s.store.Enabled(),
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"pipeline":    s.controller.Status().Stats,
		"subscribers": s.broadcaster.SubscriberCount(),
	}
	if s.client != nil {
		resp["engine"] = s.client.Stats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id query parameter required")
		return
	}
	if !s.store.Enabled() {
		s.writeError(w, http.StatusNotFound, "transcript store is disabled")
		return
	}
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := s.store.ListSession(r.Context(), sessionID, limit)
	if err != nil {
		s.logger.Error("Failed to list transcriptions", "session_id", sessionID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to query transcriptions")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     sessionID,
		"count":          len(records),
		"transcriptions": records,
	})
}

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	info, err := s.controller.Start()
	switch {
	case errors.Is(err, session.ErrSessionAlreadyActive):
		s.writeError(w, http.StatusConflict, "capture already active")
	case errors.Is(err, audio.ErrDeviceUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "audio device unavailable")
	case err != nil:
		s.logger.Error("Failed to start capture", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start capture")
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"message":    "capture started",
			"session_id": info.ID,
			"started_at": info.StartedAt,
			"device":     info.Device,
		})
	}
}

func (s *Server) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	status, err := s.controller.Stop()
	if errors.Is(err, session.ErrNoActiveSession) {
		s.writeError(w, http.StatusBadRequest, "no active capture session")
		return
	}
	if err != nil {
		s.logger.Error("Failed to stop capture", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to stop capture")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "capture stopped",
		"stats":   status.Stats,
	})
}
