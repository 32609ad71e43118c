package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice agent pipeline
type Metrics struct {
	// Capture metrics
	SegmentsCaptured prometheus.Counter
	SegmentDuration  prometheus.Histogram
	SegmentSize      prometheus.Histogram
	NoSpeechSegments prometheus.Counter
	CaptureErrors    prometheus.Counter

	// VAD metrics
	VADTicksProcessed prometheus.Counter
	VADSpeechTicks    prometheus.Counter
	VADSpeechStarts   prometheus.Counter
	VADEndOfSpeech    prometheus.Counter

	// Turn metrics
	TurnsStarted   prometheus.Counter
	TurnsCompleted prometheus.Counter
	TurnsDropped   prometheus.Counter
	TurnDuration   prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// Answer and synthesis metrics
	AnswerRequests prometheus.Counter
	AnswerFailures prometheus.Counter
	AnswerDuration prometheus.Histogram
	SynthRequests  prometheus.Counter
	SynthFailures  prometheus.Counter
	SynthFallbacks prometheus.Counter
	SynthDuration  prometheus.Histogram

	// Playback metrics
	ClipsPlayed    prometheus.Counter
	ClipSize       prometheus.Histogram
	PlaybackErrors prometheus.Counter

	// Streaming channel metrics
	ChannelConnects    prometheus.Counter
	ChannelDisconnects prometheus.Counter
	ChannelMessages    prometheus.Counter
	ChannelAudioBytes  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Capture metrics
		SegmentsCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_segments_captured_total",
			Help: "Total number of finished speech segments captured",
		}),
		SegmentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceagent_segment_duration_seconds",
			Help:    "Duration of captured speech segments",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~2 minutes
		}),
		SegmentSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceagent_segment_size_bytes",
			Help:    "Size of encoded speech segments in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		NoSpeechSegments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_no_speech_segments_total",
			Help: "Total number of capture attempts that ended without speech",
		}),
		CaptureErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_capture_errors_total",
			Help: "Total number of capture device or pipeline errors",
		}),

		// VAD metrics
		VADTicksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_vad_ticks_processed_total",
			Help: "Total number of VAD ticks evaluated",
		}),
		VADSpeechTicks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_vad_speech_ticks_total",
			Help: "Total number of VAD ticks that passed the speech test",
		}),
		VADSpeechStarts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_vad_speech_starts_total",
			Help: "Total number of start-of-speech events",
		}),
		VADEndOfSpeech: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_vad_end_of_speech_total",
			Help: "Total number of end-of-speech events",
		}),

		// Turn metrics
		TurnsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_turns_started_total",
			Help: "Total number of conversational turns started",
		}),
		TurnsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_turns_completed_total",
			Help: "Total number of conversational turns completed",
		}),
		TurnsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_turns_dropped_total",
			Help: "Total number of finalized utterances dropped while a turn was processing",
		}),
		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceagent_turn_duration_seconds",
			Help:    "Duration of complete conversational turns",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~8 minutes
		}),

		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceagent_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// Answer and synthesis metrics
		AnswerRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_answer_requests_total",
			Help: "Total number of answer service requests",
		}),
		AnswerFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_answer_failures_total",
			Help: "Total number of failed answer service requests",
		}),
		AnswerDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceagent_answer_duration_seconds",
			Help:    "Duration of answer service requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		SynthRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_synthesis_requests_total",
			Help: "Total number of synthesis requests",
		}),
		SynthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_synthesis_failures_total",
			Help: "Total number of failed synthesis requests",
		}),
		SynthFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_synthesis_fallbacks_total",
			Help: "Total number of answers presented as text after synthesis failed",
		}),
		SynthDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceagent_synthesis_duration_seconds",
			Help:    "Duration of synthesis requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		// Playback metrics
		ClipsPlayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_clips_played_total",
			Help: "Total number of assistant clips played",
		}),
		ClipSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceagent_clip_size_bytes",
			Help:    "Size of assembled playback clips in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12),
		}),
		PlaybackErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_playback_errors_total",
			Help: "Total number of playback failures",
		}),

		// Streaming channel metrics
		ChannelConnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_channel_connects_total",
			Help: "Total number of streaming channel connections opened",
		}),
		ChannelDisconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_channel_disconnects_total",
			Help: "Total number of streaming channel disconnections",
		}),
		ChannelMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_channel_messages_total",
			Help: "Total number of inbound streaming channel messages",
		}),
		ChannelAudioBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_channel_audio_bytes_total",
			Help: "Total bytes of synthesized audio received over the channel",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceagent_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voiceagent_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceagent_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSegmentCaptured records one finished speech segment
func (m *Metrics) RecordSegmentCaptured(durationSeconds float64, sizeBytes int) {
	m.SegmentsCaptured.Inc()
	m.SegmentDuration.Observe(durationSeconds)
	m.SegmentSize.Observe(float64(sizeBytes))
}

// RecordNoSpeech increments the no-speech counter
func (m *Metrics) RecordNoSpeech() {
	m.NoSpeechSegments.Inc()
}

// RecordCaptureError increments the capture error counter
func (m *Metrics) RecordCaptureError() {
	m.CaptureErrors.Inc()
}

// RecordVADTick records one VAD evaluation and optionally a speech hit
func (m *Metrics) RecordVADTick(isSpeech bool) {
	m.VADTicksProcessed.Inc()
	if isSpeech {
		m.VADSpeechTicks.Inc()
	}
}

// RecordSpeechStart increments the start-of-speech counter
func (m *Metrics) RecordSpeechStart() {
	m.VADSpeechStarts.Inc()
}

// RecordEndOfSpeech increments the end-of-speech counter
func (m *Metrics) RecordEndOfSpeech() {
	m.VADEndOfSpeech.Inc()
}

// RecordTurnStarted increments the turns started counter
func (m *Metrics) RecordTurnStarted() {
	m.TurnsStarted.Inc()
}

// RecordTurnCompleted records a completed turn and its duration
func (m *Metrics) RecordTurnCompleted(durationSeconds float64) {
	m.TurnsCompleted.Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordTurnDropped increments the dropped turns counter
func (m *Metrics) RecordTurnDropped() {
	m.TurnsDropped.Inc()
}

// RecordTranscriptionRequest increments the transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	m.TranscriptionRetries.Inc()
}

// RecordAnswerRequest records one answer service request
func (m *Metrics) RecordAnswerRequest(durationSeconds float64, failed bool) {
	m.AnswerRequests.Inc()
	m.AnswerDuration.Observe(durationSeconds)
	if failed {
		m.AnswerFailures.Inc()
	}
}

// RecordSynthesisRequest records one synthesis request
func (m *Metrics) RecordSynthesisRequest(durationSeconds float64, failed bool) {
	m.SynthRequests.Inc()
	m.SynthDuration.Observe(durationSeconds)
	if failed {
		m.SynthFailures.Inc()
	}
}

// RecordSynthesisFallback increments the fallback presentation counter
func (m *Metrics) RecordSynthesisFallback() {
	m.SynthFallbacks.Inc()
}

// RecordClipPlayed records one played clip
func (m *Metrics) RecordClipPlayed(sizeBytes int) {
	m.ClipsPlayed.Inc()
	m.ClipSize.Observe(float64(sizeBytes))
}

// RecordPlaybackError increments the playback error counter
func (m *Metrics) RecordPlaybackError() {
	m.PlaybackErrors.Inc()
}

// RecordChannelConnect increments the channel connect counter
func (m *Metrics) RecordChannelConnect() {
	m.ChannelConnects.Inc()
}

// RecordChannelDisconnect increments the channel disconnect counter
func (m *Metrics) RecordChannelDisconnect() {
	m.ChannelDisconnects.Inc()
}

// RecordChannelMessage records one inbound channel message
func (m *Metrics) RecordChannelMessage() {
	m.ChannelMessages.Inc()
}

// RecordChannelAudio adds received synthesized-audio bytes
func (m *Metrics) RecordChannelAudio(bytes int) {
	m.ChannelAudioBytes.Add(float64(bytes))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
