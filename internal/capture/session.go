package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LoayDeeb/VoiceAgent/internal/audio"
	"github.com/LoayDeeb/VoiceAgent/internal/vad"
)

// ErrNoSpeech is reported when a capture session ends without any speech
// having been detected. It is not a user-facing failure; callers skip
// transcription submission for this condition.
var ErrNoSpeech = errors.New("no speech detected")

// Source abstracts the microphone and audio-analysis pipeline. A session
// owns its source exclusively for its lifetime and closes it exactly once.
type Source interface {
	// Open acquires the device. Errors surface as capture errors
	// (permission denial, device busy).
	Open(ctx context.Context) error

	// ReadBlock returns the raw PCM samples captured since the last call.
	// An empty block is valid when no new audio is available.
	ReadBlock() ([]float32, error)

	// Spectrum returns the current frequency-domain energy snapshot:
	// per-bin magnitudes on a 0-255 scale and the width in Hz each
	// bin covers.
	Spectrum() ([]byte, float64, error)

	// Close releases the device. Must be safe to call after Open failed.
	Close() error
}

// Callbacks is the fixed set of handler slots a session reports through.
// Handlers are invoked synchronously from the session's own goroutine.
type Callbacks struct {
	// OnInterim receives WAV-encoded audio buffered while speech is
	// active, on the EmitInterval cadence. Each delivery carries only the
	// samples accumulated since the previous one; the unsent tail is
	// flushed when the segment finishes, so the stream of interims covers
	// the whole segment exactly once.
	OnInterim func(encoded []byte)

	// OnSegment receives the finished, WAV-encoded audio segment.
	OnSegment func(encoded []byte, duration time.Duration)

	// OnError receives device errors and the no-speech condition.
	OnError func(err error)
}

// Options contains capture session parameters
type Options struct {
	SampleRate   int
	TickInterval time.Duration

	// EmitInterval is the cadence for OnInterim deliveries; zero disables
	// interim emission.
	EmitInterval time.Duration

	VAD vad.Config
}

// SessionStats represents capture session statistics for monitoring
type SessionStats struct {
	TicksProcessed  uint64        `json:"ticks_processed"`
	BlocksBuffered  uint64        `json:"blocks_buffered"`
	SamplesBuffered int           `json:"samples_buffered"`
	VADState        string        `json:"vad_state"`
	Running         bool          `json:"running"`
	Elapsed         time.Duration `json:"elapsed"`
}

// Session owns one microphone acquisition and its VAD instance. It runs a
// periodic sampling loop, buffers raw sample blocks while the detector is
// not idle (speech and trailing silence, so natural utterance endings are
// kept while pure background noise before speech is discarded), and hands
// the finished segment to the finalize callback.
type Session struct {
	source    Source
	detector  *vad.Detector
	callbacks Callbacks
	options   Options
	logger    *slog.Logger

	// Buffered sample blocks for the current segment
	blocks    [][]float32
	samples   int
	hadSpeech bool

	// Interim emission position: blocks before this index have already
	// been delivered through OnInterim
	emitted  int
	lastEmit time.Time

	// Statistics
	ticks     uint64
	startTime time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	finalized bool
	mu        sync.Mutex
}

// Start acquires the source and begins the sampling loop. The returned
// session's Stop method is the manual stop handle; it is idempotent and
// safe to call from the error and finalize paths.
func Start(ctx context.Context, source Source, callbacks Callbacks, options Options, logger *slog.Logger) (*Session, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}

	if options.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", options.SampleRate)
	}

	if options.TickInterval <= 0 {
		options.TickInterval = 100 * time.Millisecond
	}

	detector, err := vad.NewDetector(options.VAD)
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD detector: %w", err)
	}

	if err := source.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open capture source: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)

	s := &Session{
		source:    source,
		detector:  detector,
		callbacks: callbacks,
		options:   options,
		logger:    logger,
		blocks:    make([][]float32, 0, 64),
		startTime: time.Now(),
		lastEmit:  time.Now(),
		ctx:       loopCtx,
		cancel:    cancel,
	}

	s.wg.Add(1)
	go s.run()

	logger.Debug("Capture session started",
		slog.Int("sample_rate", options.SampleRate),
		slog.Duration("tick_interval", options.TickInterval),
	)

	return s, nil
}

// Stop manually ends the session. The first call finalizes the buffered
// segment (or reports the no-speech condition) and releases the source;
// subsequent calls are no-ops.
func (s *Session) Stop() {
	s.finish(true, nil)
}

// run is the periodic sampling loop
func (s *Session) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.options.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			if done := s.tick(); done {
				return
			}
		}
	}
}

// tick processes one VAD evaluation cycle. Returns true when the loop
// should exit because the segment finished or failed.
func (s *Session) tick() bool {
	bins, binWidth, err := s.source.Spectrum()
	if err != nil {
		s.finish(false, fmt.Errorf("failed to read spectrum: %w", err))
		return true
	}

	result := s.detector.Tick(bins, binWidth)

	block, err := s.source.ReadBlock()
	if err != nil {
		s.finish(false, fmt.Errorf("failed to read audio block: %w", err))
		return true
	}

	s.mu.Lock()
	s.ticks++
	if result.Speech {
		s.hadSpeech = true
	}
	// Buffer during speech and trailing silence only
	if result.State != vad.StateIdle && len(block) > 0 {
		s.blocks = append(s.blocks, block)
		s.samples += len(block)
	}

	// Push the audio buffered since the last push while speech is active
	var interim []float32
	if s.callbacks.OnInterim != nil && s.options.EmitInterval > 0 &&
		result.State != vad.StateIdle && s.emitted < len(s.blocks) &&
		time.Since(s.lastEmit) >= s.options.EmitInterval {
		interim = mergeBlocks(s.blocks[s.emitted:])
		s.emitted = len(s.blocks)
		s.lastEmit = time.Now()
	}
	s.mu.Unlock()

	if interim != nil {
		s.emitInterim(interim)
	}

	if result.Event == vad.EventSpeechStart {
		s.logger.Debug("Speech detected",
			slog.Float64("average", result.Average),
			slog.Float64("variance", result.Variance),
		)
	}

	if result.Event == vad.EventEndOfSpeech {
		s.logger.Debug("End of speech detected",
			slog.Uint64("ticks", s.ticks),
			slog.Int("samples", s.samples),
		)
		s.finish(false, nil)
		return true
	}

	return false
}

// finish ends the session exactly once: stops the loop, releases the
// source, then either reports the failure, reports no-speech, or encodes
// and delivers the finished segment.
func (s *Session) finish(manual bool, failure error) {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return
	}
	s.finalized = true
	s.mu.Unlock()

	s.cancel()
	if manual {
		// Callers outside the loop goroutine wait for it to exit before
		// tearing down the source.
		s.wg.Wait()
	}

	if err := s.source.Close(); err != nil {
		s.logger.Warn("Error closing capture source", slog.String("error", err.Error()))
	}

	if failure != nil {
		s.logger.Error("Capture session failed", slog.String("error", failure.Error()))
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(failure)
		}
		return
	}

	s.mu.Lock()
	hadSpeech := s.hadSpeech
	blocks := s.blocks
	samples := s.samples
	emitted := s.emitted
	s.blocks = nil
	s.samples = 0
	s.emitted = 0
	s.mu.Unlock()

	if !hadSpeech || samples == 0 {
		s.logger.Debug("No speech detected, discarding buffers",
			slog.Uint64("ticks", s.ticks),
		)
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(ErrNoSpeech)
		}
		return
	}

	// Flush audio still unsent since the last interim push
	if s.callbacks.OnInterim != nil && s.options.EmitInterval > 0 && emitted < len(blocks) {
		s.emitInterim(mergeBlocks(blocks[emitted:]))
	}

	// Assemble buffered blocks into one segment
	merged := mergeBlocks(blocks)

	encoded, err := audio.EncodeWAV(merged, s.options.SampleRate)
	if err != nil {
		s.logger.Error("Failed to encode segment", slog.String("error", err.Error()))
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(fmt.Errorf("failed to encode segment: %w", err))
		}
		return
	}

	duration := time.Duration(float64(samples) / float64(s.options.SampleRate) * float64(time.Second))

	s.logger.Info("Audio segment finalized",
		slog.Int("samples", samples),
		slog.Float64("duration", duration.Seconds()),
		slog.Int("encoded_bytes", len(encoded)),
		slog.Bool("manual_stop", manual),
	)

	if s.callbacks.OnSegment != nil {
		s.callbacks.OnSegment(encoded, duration)
	}
}

// emitInterim encodes and delivers one interim block run
func (s *Session) emitInterim(samples []float32) {
	encoded, err := audio.EncodeWAV(samples, s.options.SampleRate)
	if err != nil {
		s.logger.Warn("Failed to encode interim audio", slog.String("error", err.Error()))
		return
	}

	s.logger.Debug("Interim audio emitted",
		slog.Int("samples", len(samples)),
		slog.Int("encoded_bytes", len(encoded)),
	)

	s.callbacks.OnInterim(encoded)
}

func mergeBlocks(blocks [][]float32) []float32 {
	total := 0
	for _, block := range blocks {
		total += len(block)
	}
	merged := make([]float32, 0, total)
	for _, block := range blocks {
		merged = append(merged, block...)
	}
	return merged
}

// GetStats returns current session statistics
func (s *Session) GetStats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionStats{
		TicksProcessed:  s.ticks,
		BlocksBuffered:  uint64(len(s.blocks)),
		SamplesBuffered: s.samples,
		VADState:        s.detector.State().String(),
		Running:         !s.finalized,
		Elapsed:         time.Since(s.startTime),
	}
}
