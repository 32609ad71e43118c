package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LoayDeeb/VoiceAgent/internal/answer"
	"github.com/LoayDeeb/VoiceAgent/internal/capture"
	"github.com/LoayDeeb/VoiceAgent/internal/channel"
	"github.com/LoayDeeb/VoiceAgent/internal/config"
	"github.com/LoayDeeb/VoiceAgent/internal/metrics"
	"github.com/LoayDeeb/VoiceAgent/internal/playback"
	"github.com/LoayDeeb/VoiceAgent/internal/server"
	"github.com/LoayDeeb/VoiceAgent/internal/synthesis"
	"github.com/LoayDeeb/VoiceAgent/internal/transcription"
	"github.com/LoayDeeb/VoiceAgent/internal/turn"
	"github.com/LoayDeeb/VoiceAgent/internal/vad"
	"github.com/LoayDeeb/VoiceAgent/internal/voicestore"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-agent"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("mode", cfg.Turn.Mode),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("vad_energy_threshold", cfg.VAD.EnergyThreshold),
		slog.Float64("vad_variance_threshold", cfg.VAD.VarianceThreshold),
		slog.Duration("silence_duration", cfg.VAD.GetSilenceDuration()),
		slog.Duration("debounce_delay", cfg.Turn.GetDebounceDelay()),
		slog.String("answer_endpoint", cfg.Answer.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Open the PCM input stream shared by consecutive capture sessions
	pcmInput, err := openPCMInput(cfg.Audio.Input)
	if err != nil {
		logger.Error("Failed to open PCM input", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Selected-voice persistence
	voices, err := voicestore.NewStore(voicestore.Config{
		RedisAddr:    cfg.VoiceStore.RedisAddr,
		RedisDB:      cfg.VoiceStore.RedisDB,
		Key:          cfg.VoiceStore.Key,
		DefaultVoice: cfg.VoiceStore.DefaultVoice,
	}, logger)
	if err != nil {
		logger.Error("Failed to create voice store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer voices.Close()

	if err := voices.Ping(ctx); err != nil {
		logger.Warn("Voice store unreachable, selections fall back to default",
			slog.String("error", err.Error()))
	}

	// Answer service client
	answerClient, err := answer.NewClient(answer.Config{
		Endpoint: cfg.Answer.Endpoint,
		Timeout:  cfg.Answer.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create answer client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Playback sink
	player, err := newPlayer(cfg.Playback, logger)
	if err != nil {
		logger.Error("Failed to create player", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Capture factory: one exclusive session at a time over the shared
	// PCM input. Streaming mode pushes buffered audio on the channel's
	// send cadence while speech is active.
	var emitInterval time.Duration
	if cfg.Turn.Mode == "streaming" {
		emitInterval = cfg.Channel.GetSendInterval()
	}
	captureFactory := newCaptureFactory(cfg, pcmInput, emitInterval, appMetrics, logger)

	deps := turn.Deps{
		Capture:  captureFactory,
		Answerer: answerClient,
		Observer: &loggingObserver{logger: logger, metrics: appMetrics},
	}

	var (
		channelClient *channel.Client
		router        *channelRouter
	)

	switch cfg.Turn.Mode {
	case "streaming":
		collector, err := playback.NewBuffer(player, logger)
		if err != nil {
			logger.Error("Failed to create playback buffer", slog.String("error", err.Error()))
			os.Exit(1)
		}
		deps.Collector = collector

		// The channel callbacks route through an indirection bound to the
		// coordinator after it is created; the client is the streamer
		channelClient, router = mustChannelClient(cfg, appMetrics, logger, &deps)

	case "batch":
		transcriptionClient, err := transcription.NewClient(transcription.Config{
			Endpoint:      cfg.Transcription.Endpoint,
			Prompt:        cfg.Transcription.Prompt,
			Timeout:       cfg.Transcription.GetTimeoutDuration(),
			MaxRetries:    cfg.Transcription.MaxRetries,
			MaxConcurrent: cfg.Transcription.MaxConcurrent,
		})
		if err != nil {
			logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer transcriptionClient.Close()

		synthesisClient, err := synthesis.NewClient(synthesis.Config{
			Endpoint:      cfg.Synthesis.Endpoint,
			Provider:      cfg.Synthesis.Provider,
			VoiceID:       cfg.Synthesis.VoiceID,
			InputMode:     cfg.Synthesis.InputMode,
			PerformanceID: cfg.Synthesis.PerformanceID,
			DialectID:     cfg.Synthesis.DialectID,
			Timeout:       cfg.Synthesis.GetTimeoutDuration(),
		})
		if err != nil {
			logger.Error("Failed to create synthesis client", slog.String("error", err.Error()))
			os.Exit(1)
		}

		deps.Transcriber = &batchTranscriber{client: transcriptionClient, metrics: appMetrics}
		deps.Synthesizer = &voiceSynthesizer{
			client:   synthesisClient,
			voices:   voices,
			provider: cfg.Synthesis.Provider,
			metrics:  appMetrics,
		}
		deps.Player = player
	}

	// Turn coordinator
	coordinator, err := turn.NewCoordinator(deps, turn.Options{
		Mode:          turn.Mode(cfg.Turn.Mode),
		DebounceDelay: cfg.Turn.GetDebounceDelay(),
		RearmDelay:    cfg.Turn.GetRearmDelay(),
		RetryDelay:    cfg.Turn.GetRetryDelay(),
	}, logger)
	if err != nil {
		logger.Error("Failed to create turn coordinator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Turn coordinator initialized", slog.String("mode", cfg.Turn.Mode))

	// Connect the streaming channel and route its events to the coordinator
	if channelClient != nil {
		router.coordinator = coordinator

		if err := channelClient.Connect(ctx); err != nil {
			logger.Error("Failed to connect streaming channel", slog.String("error", err.Error()))
			os.Exit(1)
		}
		appMetrics.RecordChannelConnect()
		defer channelClient.Disconnect()
	}

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(ctx, logger, cfg, coordinator, voices, channelClient, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)

		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Activate the session; the admin API can toggle it afterwards
	if err := coordinator.Start(ctx); err != nil {
		logger.Warn("Session not activated at startup",
			slog.String("error", err.Error()))
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Deactivate the session (stops capture, cancels timers, drops buffers)
	coordinator.Stop()

	// Final statistics
	stats := coordinator.GetStats()
	logger.Info("Final session statistics",
		slog.Uint64("turns_completed", stats.TurnsCompleted),
		slog.Uint64("turns_dropped", stats.TurnsDropped),
		slog.Uint64("segments_received", stats.SegmentsReceived),
		slog.Int("history_length", stats.HistoryLength),
	)

	logger.Info("Service stopped")
}

// openPCMInput resolves the configured PCM input path
func openPCMInput(path string) (io.Reader, error) {
	if path == "" || path == "stdin" {
		return os.Stdin, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return file, nil
}

// newPlayer builds the configured playback sink
func newPlayer(cfg config.PlaybackConfig, logger *slog.Logger) (playback.Player, error) {
	if cfg.Command != "" {
		return playback.NewCommandPlayer(cfg.Command, logger)
	}
	return playback.NewFilePlayer(cfg.OutputDir, logger)
}

// newCaptureFactory builds the coordinator's capture factory over the
// shared PCM input
func newCaptureFactory(cfg *config.Config, input io.Reader, emitInterval time.Duration, m *metrics.Metrics, logger *slog.Logger) turn.CaptureFactory {
	return func(ctx context.Context, onInterim func([]byte), onSegment func([]byte, time.Duration), onError func(error)) (turn.Capture, error) {
		source, err := capture.NewPCMSource(input, cfg.Audio.SampleRate)
		if err != nil {
			return nil, err
		}

		session, err := capture.Start(ctx, source, capture.Callbacks{
			OnInterim: onInterim,
			OnSegment: func(encoded []byte, duration time.Duration) {
				m.RecordSegmentCaptured(duration.Seconds(), len(encoded))
				onSegment(encoded, duration)
			},
			OnError: func(err error) {
				if errors.Is(err, capture.ErrNoSpeech) {
					m.RecordNoSpeech()
					onError(fmt.Errorf("%w", turn.ErrNoSpeech))
					return
				}
				m.RecordCaptureError()
				onError(err)
			},
		}, capture.Options{
			SampleRate:   cfg.Audio.SampleRate,
			TickInterval: cfg.Audio.GetTickInterval(),
			EmitInterval: emitInterval,
			VAD: vad.Config{
				EnergyThreshold:   cfg.VAD.EnergyThreshold,
				VarianceThreshold: cfg.VAD.VarianceThreshold,
				SilenceDuration:   cfg.VAD.GetSilenceDuration(),
			},
		}, logger)
		if err != nil {
			return nil, err
		}

		return &sessionHandle{session: session}, nil
	}
}

// sessionHandle adapts a capture session to the coordinator's handle
type sessionHandle struct {
	session *capture.Session
}

func (h *sessionHandle) Stop() error {
	h.session.Stop()
	return nil
}

// mustChannelClient creates the streaming channel client. Its callbacks
// target the coordinator created later, so they route through the
// returned router.
func mustChannelClient(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger, deps *turn.Deps) (*channel.Client, *channelRouter) {
	router := &channelRouter{metrics: m}

	client, err := channel.NewClient(channel.Config{
		URL:          cfg.Channel.URL,
		Language:     cfg.Channel.Language,
		EOSEnabled:   cfg.Channel.EOSEnabled,
		EOSThreshold: cfg.Channel.EOSThreshold,
		Dialect:      cfg.Channel.Dialect,
		Speaker:      cfg.Channel.Speaker,
	}, channel.Callbacks{
		OnTranscript: router.onTranscript,
		OnAudio:      router.onAudio,
		OnEnd:        router.onEnd,
		OnError:      router.onError,
		OnDisconnect: router.onDisconnect,
	}, logger)
	if err != nil {
		logger.Error("Failed to create streaming channel client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	deps.Streamer = client

	return client, router
}

// channelRouter forwards channel events to the coordinator
type channelRouter struct {
	coordinator *turn.Coordinator
	metrics     *metrics.Metrics
}

func (r *channelRouter) onTranscript(text string, isFinal bool) {
	r.metrics.RecordChannelMessage()
	if r.coordinator != nil {
		r.coordinator.HandleTranscript(text, isFinal)
	}
}

func (r *channelRouter) onAudio(chunk []byte) {
	r.metrics.RecordChannelAudio(len(chunk))
	if r.coordinator != nil {
		r.coordinator.HandleAudio(chunk)
	}
}

func (r *channelRouter) onEnd() {
	if r.coordinator != nil {
		r.coordinator.HandleStreamEnd()
	}
}

func (r *channelRouter) onError(err error) {
	if r.coordinator != nil {
		r.coordinator.HandleStreamError(err)
	}
}

func (r *channelRouter) onDisconnect() {
	r.metrics.RecordChannelDisconnect()
}

// batchTranscriber adapts the transcription client to the coordinator
type batchTranscriber struct {
	client  *transcription.Client
	metrics *metrics.Metrics
}

func (t *batchTranscriber) Transcribe(ctx context.Context, encoded []byte, duration time.Duration) (string, error) {
	t.metrics.RecordTranscriptionRequest()

	start := time.Now()
	response, err := t.client.Transcribe(ctx, &transcription.Request{
		AudioData: encoded,
		Duration:  duration,
	})
	if err != nil {
		t.metrics.RecordTranscriptionFailure(time.Since(start).Seconds())
		return "", err
	}

	t.metrics.RecordTranscriptionSuccess(time.Since(start).Seconds())
	return response.Text, nil
}

// voiceSynthesizer adapts the synthesis client to the coordinator,
// resolving the selected voice per request
type voiceSynthesizer struct {
	client   *synthesis.Client
	voices   *voicestore.Store
	provider string
	metrics  *metrics.Metrics
}

func (s *voiceSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	voice, err := s.voices.Get(ctx)
	if err != nil {
		// Selection unavailable; the configured default still applies
		voice = ""
	}

	start := time.Now()
	clip, err := s.client.Synthesize(ctx, text, s.provider, voice)
	s.metrics.RecordSynthesisRequest(time.Since(start).Seconds(), err != nil)

	return clip, err
}

// loggingObserver surfaces coordinator events to the log and metrics
type loggingObserver struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func (o *loggingObserver) OnPartial(text string) {
	o.logger.Debug("Partial transcript", slog.String("text", text))
}

func (o *loggingObserver) OnMessage(msg turn.Message) {
	o.logger.Info("Transcript message",
		slog.String("role", string(msg.Role)),
		slog.String("text", msg.Text),
	)
	if msg.Role == turn.RoleUser {
		o.metrics.RecordTurnStarted()
	}
}

func (o *loggingObserver) OnStateChange(state turn.State) {
	o.logger.Debug("Session state changed", slog.String("state", state.String()))
}

func (o *loggingObserver) OnError(err error) {
	o.logger.Warn("Session error", slog.String("error", err.Error()))
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
