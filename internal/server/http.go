package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LoayDeeb/VoiceAgent/internal/channel"
	"github.com/LoayDeeb/VoiceAgent/internal/config"
	"github.com/LoayDeeb/VoiceAgent/internal/metrics"
	"github.com/LoayDeeb/VoiceAgent/internal/turn"
	"github.com/LoayDeeb/VoiceAgent/internal/voicestore"
)

// HTTPServer provides HTTP API endpoints for monitoring and session control
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	coordinator *turn.Coordinator
	voices      *voicestore.Store
	channel     *channel.Client
	metrics     *metrics.Metrics

	// Server state
	runCtx    context.Context
	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. The channel client is nil
// in batch mode.
func NewHTTPServer(runCtx context.Context, logger *slog.Logger, appConfig *config.Config,
	coordinator *turn.Coordinator, voices *voicestore.Store, ch *channel.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:      logger,
		config:      appConfig,
		coordinator: coordinator,
		voices:      voices,
		channel:     ch,
		metrics:     m,
		runCtx:      runCtx,
		startTime:   time.Now(),
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the configured route multiplexer
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session control and transcript history
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))

	// Selected synthesis voice
	mux.HandleFunc("/voice", h.withMetrics("/voice", h.handleVoice))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))

	return mux
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	coordinatorStats := h.coordinator.GetStats()

	channelStatus := "disabled"
	if h.channel != nil {
		channelStatus = "disconnected"
		if h.channel.IsConnected() {
			channelStatus = "connected"
		}
	}

	voiceStoreStatus := "healthy"
	if err := h.voices.Ping(r.Context()); err != nil {
		voiceStoreStatus = "unreachable"
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "voice-agent",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"coordinator": map[string]interface{}{
				"state":           coordinatorStats.State,
				"active":          coordinatorStats.Active,
				"turns_completed": coordinatorStats.TurnsCompleted,
			},
			"channel": map[string]interface{}{
				"status": channelStatus,
			},
			"voice_store": map[string]interface{}{
				"status": voiceStoreStatus,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSession implements the /session endpoint: GET returns session
// state and transcript history, POST toggles the session active state.
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		response := map[string]interface{}{
			"active":    h.coordinator.IsActive(),
			"state":     h.coordinator.State().String(),
			"timestamp": time.Now().UTC(),
			"history":   h.coordinator.History(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)

	case http.MethodPost:
		var request struct {
			Active bool `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if request.Active {
			if err := h.coordinator.Start(h.runCtx); err != nil {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
		} else {
			h.coordinator.Stop()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"active": h.coordinator.IsActive(),
			"state":  h.coordinator.State().String(),
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVoice implements the /voice endpoint: GET returns the selected
// synthesis voice, PUT stores a new selection.
func (h *HTTPServer) handleVoice(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		voice, err := h.voices.Get(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"voice": voice})

	case http.MethodPut:
		var request struct {
			Voice string `json:"voice"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := h.voices.Set(r.Context(), request.Voice); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"voice": request.Voice})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (endpoints only, no credentials)
	sanitizedConfig := map[string]interface{}{
		"audio": map[string]interface{}{
			"sample_rate":   h.config.Audio.SampleRate,
			"channels":      h.config.Audio.Channels,
			"bit_depth":     h.config.Audio.BitDepth,
			"tick_interval": h.config.Audio.TickInterval,
		},
		"vad": map[string]interface{}{
			"energy_threshold":   h.config.VAD.EnergyThreshold,
			"variance_threshold": h.config.VAD.VarianceThreshold,
			"silence_duration":   h.config.VAD.SilenceDuration,
		},
		"turn": map[string]interface{}{
			"mode":           h.config.Turn.Mode,
			"debounce_delay": h.config.Turn.DebounceDelay,
			"rearm_delay":    h.config.Turn.RearmDelay,
			"retry_delay":    h.config.Turn.RetryDelay,
		},
		"channel": map[string]interface{}{
			"url":           h.config.Channel.URL,
			"language":      h.config.Channel.Language,
			"eos_enabled":   h.config.Channel.EOSEnabled,
			"eos_threshold": h.config.Channel.EOSThreshold,
			"send_interval": h.config.Channel.SendInterval,
		},
		"transcription": map[string]interface{}{
			"endpoint":       h.config.Transcription.Endpoint,
			"timeout":        h.config.Transcription.Timeout,
			"max_retries":    h.config.Transcription.MaxRetries,
			"max_concurrent": h.config.Transcription.MaxConcurrent,
		},
		"answer": map[string]interface{}{
			"endpoint": h.config.Answer.Endpoint,
			"timeout":  h.config.Answer.Timeout,
		},
		"synthesis": map[string]interface{}{
			"endpoint": h.config.Synthesis.Endpoint,
			"provider": h.config.Synthesis.Provider,
			"timeout":  h.config.Synthesis.Timeout,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":      uptime.String(),
		"timestamp":   time.Now().UTC(),
		"coordinator": h.coordinator.GetStats(),
		"voice_store": h.voices.GetStats(),
	}

	if h.channel != nil {
		stats["channel"] = h.channel.GetStats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Voice Agent Pipeline Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":         "API documentation",
			"GET /health":   "Service health check",
			"GET /session":  "Session state and transcript history",
			"POST /session": "Toggle session active state",
			"GET /voice":    "Get selected synthesis voice",
			"PUT /voice":    "Set selected synthesis voice",
			"GET /config":   "Get service configuration",
			"GET /stats":    "Get service statistics",
			"GET /metrics":  "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
