package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoayDeeb/VoiceAgent/internal/config"
	"github.com/LoayDeeb/VoiceAgent/internal/metrics"
	"github.com/LoayDeeb/VoiceAgent/internal/playback"
	"github.com/LoayDeeb/VoiceAgent/internal/turn"
	"github.com/LoayDeeb/VoiceAgent/internal/voicestore"
)

// Prometheus collectors register globally, so the test suite shares one set
var (
	metricsOnce sync.Once
	testMetrics *metrics.Metrics
)

func sharedMetrics() *metrics.Metrics {
	metricsOnce.Do(func() {
		testMetrics = metrics.NewMetrics()
	})
	return testMetrics
}

type noopCapture struct{}

func (noopCapture) Stop() error { return nil }

type noopAnswerer struct{}

func (noopAnswerer) Ask(ctx context.Context, query string) (string, error) { return "ok", nil }

type noopStreamer struct{}

func (noopStreamer) SendAudio(encoded []byte) error  { return nil }
func (noopStreamer) SendSynthesis(text string) error { return nil }

type noopPlayer struct{}

func (noopPlayer) Play(ctx context.Context, clip []byte) error { return nil }

func testServerConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{Port: 8090, Address: "127.0.0.1", Enabled: true},
		Audio: config.AudioConfig{
			SampleRate: 16000, Channels: 1, BitDepth: 16, TickInterval: 0.1,
		},
		VAD: config.VADConfig{
			EnergyThreshold: 0.01, VarianceThreshold: 1000, SilenceDuration: 0.8,
		},
		Turn: config.TurnConfig{
			Mode: "streaming", DebounceDelay: 0.8, RearmDelay: 0.5, RetryDelay: 1.0,
		},
		Channel: config.ChannelConfig{
			URL: "ws://127.0.0.1:8000/ws", Language: "ar",
			EOSThreshold: 0.3, SendInterval: 0.5,
		},
		Logging: config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	collector, err := playback.NewBuffer(noopPlayer{}, logger)
	require.NoError(t, err)

	coordinator, err := turn.NewCoordinator(turn.Deps{
		Capture: func(ctx context.Context, onInterim func([]byte), onSegment func([]byte, time.Duration), onError func(error)) (turn.Capture, error) {
			return noopCapture{}, nil
		},
		Answerer:  noopAnswerer{},
		Streamer:  noopStreamer{},
		Collector: collector,
	}, turn.Options{Mode: turn.ModeStreaming}, logger)
	require.NoError(t, err)
	t.Cleanup(coordinator.Stop)

	mr := miniredis.RunT(t)
	voices, err := voicestore.NewStore(voicestore.Config{
		RedisAddr:    mr.Addr(),
		DefaultVoice: "jasem",
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { voices.Close() })

	return NewHTTPServer(context.Background(), logger, testServerConfig(), coordinator, voices, nil, sharedMetrics())
}

func doRequest(t *testing.T, h *HTTPServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])

	components := health["components"].(map[string]interface{})
	assert.Contains(t, components, "coordinator")
	assert.Contains(t, components, "voice_store")
}

func TestSessionToggle(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, false, status["active"])

	rec = doRequest(t, h, http.MethodPost, "/session", `{"active":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, true, status["active"])

	// Activating twice conflicts
	rec = doRequest(t, h, http.MethodPost, "/session", `{"active":true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/session", `{"active":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, false, status["active"])
}

func TestSessionRejectsBadBody(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/session", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVoiceEndpoint(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/voice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var voice map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &voice))
	assert.Equal(t, "jasem", voice["voice"])

	rec = doRequest(t, h, http.MethodPut, "/voice", `{"voice":"sara"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/voice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &voice))
	assert.Equal(t, "sara", voice["voice"])

	rec = doRequest(t, h, http.MethodPut, "/voice", `{"voice":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigEndpoint(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))

	audio := cfg["audio"].(map[string]interface{})
	assert.Equal(t, float64(16000), audio["sample_rate"])

	turnCfg := cfg["turn"].(map[string]interface{})
	assert.Equal(t, "streaming", turnCfg["mode"])
}

func TestStatsEndpoint(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Contains(t, stats, "coordinator")
	assert.Contains(t, stats, "voice_store")
	assert.Contains(t, stats, "uptime")
}

func TestRootEndpoint(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Contains(t, doc, "endpoints")

	rec = doRequest(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodDelete, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, h, http.MethodDelete, "/session", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
