package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoSpeech marks a capture that ended without any speech detected.
// The capture factory wraps its source's no-speech condition with this
// sentinel; the coordinator re-arms listening without surfacing an error.
var ErrNoSpeech = errors.New("no speech detected")

// State represents the coordinator's position in the turn-taking loop
type State int

const (
	// StateIdle means no session is active
	StateIdle State = iota
	// StateListening means capture is armed and waiting for speech
	StateListening
	// StateDebouncing means transcript fragments are accumulating
	StateDebouncing
	// StateProcessing means a finalized utterance is being answered
	StateProcessing
	// StateSpeaking means the assistant's reply is being played
	StateSpeaking
)

// String returns the state name for logging
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateDebouncing:
		return "debouncing"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Mode selects the transcription transport
type Mode string

const (
	// ModeBatch submits each finished segment as one request/response exchange
	ModeBatch Mode = "batch"
	// ModeStreaming pushes audio over the persistent channel and debounces
	// incremental transcripts
	ModeStreaming Mode = "streaming"
)

// Role identifies a transcript message author
type Role string

const (
	// RoleUser marks messages transcribed from captured speech
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by the answer service
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation transcript
type Message struct {
	ID   string    `json:"id"`
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Observer is the fixed set of handler slots for coordinator events.
// All handlers are invoked synchronously.
type Observer interface {
	// OnPartial receives the accumulated in-progress transcript
	OnPartial(text string)
	// OnMessage receives each finalized transcript entry. Assistant
	// messages arrive when playback starts, or immediately when synthesis
	// fails.
	OnMessage(msg Message)
	// OnStateChange receives every state transition
	OnStateChange(state State)
	// OnError receives non-fatal pipeline errors
	OnError(err error)
}

// Capture is the handle to a running capture session
type Capture interface {
	Stop() error
}

// CaptureFactory starts one capture session wired to the given callbacks.
// onInterim receives audio buffered mid-speech for incremental pushing;
// onSegment receives the finished segment.
type CaptureFactory func(ctx context.Context, onInterim func(encoded []byte), onSegment func(encoded []byte, duration time.Duration), onError func(err error)) (Capture, error)

// Transcriber converts one encoded segment to text (batch mode)
type Transcriber interface {
	Transcribe(ctx context.Context, encoded []byte, duration time.Duration) (string, error)
}

// Answerer produces the assistant's reply for a finalized utterance
type Answerer interface {
	Ask(ctx context.Context, query string) (string, error)
}

// Synthesizer converts reply text to a complete audio clip (batch mode)
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Player renders one complete clip (batch mode)
type Player interface {
	Play(ctx context.Context, clip []byte) error
}

// Streamer pushes audio and synthesis requests over the persistent
// channel (streaming mode)
type Streamer interface {
	SendAudio(encoded []byte) error
	SendSynthesis(text string) error
}

// Collector accumulates streamed synthesized audio into one clip
// (streaming mode)
type Collector interface {
	Open()
	Append(chunk []byte) bool
	Finish(ctx context.Context, onStart func()) error
	Discard()
}

// Options contains coordinator timing configuration
type Options struct {
	Mode          Mode
	DebounceDelay time.Duration
	RearmDelay    time.Duration
	RetryDelay    time.Duration
}

// Deps holds the coordinator's collaborators. Transcriber, Synthesizer
// and Player serve batch mode; Streamer and Collector serve streaming
// mode.
type Deps struct {
	Capture     CaptureFactory
	Transcriber Transcriber
	Answerer    Answerer
	Synthesizer Synthesizer
	Player      Player
	Streamer    Streamer
	Collector   Collector
	Observer    Observer
}

// CoordinatorStats represents coordinator statistics for monitoring
type CoordinatorStats struct {
	State            string `json:"state"`
	Active           bool   `json:"active"`
	Processing       bool   `json:"processing"`
	TurnsCompleted   uint64 `json:"turns_completed"`
	TurnsDropped     uint64 `json:"turns_dropped"`
	CaptureRestarts  uint64 `json:"capture_restarts"`
	AnswerFailures   uint64 `json:"answer_failures"`
	SynthFallbacks   uint64 `json:"synth_fallbacks"`
	HistoryLength    int    `json:"history_length"`
	SegmentsReceived uint64 `json:"segments_received"`
}

// Coordinator drives the conversational turn-taking loop. It owns the
// active turn end to end: arming capture, debouncing streamed transcript
// fragments, requesting the answer and synthesis, and sequencing playback
// before re-arming. Turns are strictly sequential.
type Coordinator struct {
	opts   Options
	deps   Deps
	logger *slog.Logger

	ctx context.Context

	active     bool
	state      State
	processing bool
	generation uint64

	capture   Capture
	fragments []string
	turnID    string
	answer    string
	presented bool

	debounceTimer *time.Timer
	rearmTimer    *time.Timer
	retryTimer    *time.Timer

	history []Message

	// Statistics
	turnsCompleted   uint64
	turnsDropped     uint64
	captureRestarts  uint64
	answerFailures   uint64
	synthFallbacks   uint64
	segmentsReceived uint64

	mu sync.Mutex
}

// NewCoordinator creates a turn coordinator with the given collaborators
func NewCoordinator(deps Deps, opts Options, logger *slog.Logger) (*Coordinator, error) {
	if deps.Capture == nil {
		return nil, fmt.Errorf("capture factory cannot be nil")
	}

	if deps.Answerer == nil {
		return nil, fmt.Errorf("answerer cannot be nil")
	}

	switch opts.Mode {
	case ModeBatch:
		if deps.Transcriber == nil {
			return nil, fmt.Errorf("transcriber is required in batch mode")
		}
		if deps.Synthesizer == nil {
			return nil, fmt.Errorf("synthesizer is required in batch mode")
		}
		if deps.Player == nil {
			return nil, fmt.Errorf("player is required in batch mode")
		}
	case ModeStreaming:
		if deps.Streamer == nil {
			return nil, fmt.Errorf("streamer is required in streaming mode")
		}
		if deps.Collector == nil {
			return nil, fmt.Errorf("collector is required in streaming mode")
		}
	default:
		return nil, fmt.Errorf("unknown mode: %s", opts.Mode)
	}

	if opts.DebounceDelay <= 0 {
		opts.DebounceDelay = 800 * time.Millisecond
	}
	if opts.RearmDelay <= 0 {
		opts.RearmDelay = 500 * time.Millisecond
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}

	return &Coordinator{
		opts:   opts,
		deps:   deps,
		logger: logger,
		state:  StateIdle,
	}, nil
}

// Start activates the session and arms listening
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()

	if c.active {
		c.mu.Unlock()
		return fmt.Errorf("session already active")
	}

	c.ctx = ctx
	c.active = true
	c.generation++
	c.mu.Unlock()

	c.logger.Info("Session activated", slog.String("mode", string(c.opts.Mode)))

	return c.beginListening()
}

// Stop deactivates the session: pending timers are cancelled, the active
// capture is released, and collected playback audio is dropped. In-flight
// answer or synthesis requests run to completion; their results are
// discarded when they land.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}

	c.active = false
	c.generation++
	// An in-flight answer or synthesis belongs to the old generation; its
	// completion paths bail on the generation check, so the turn bookkeeping
	// resets here or a restart would inherit a stuck processing flag.
	c.processing = false
	c.presented = false
	c.turnID = ""
	c.answer = ""
	c.stopTimersLocked()
	capture := c.capture
	c.capture = nil
	c.fragments = nil
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if capture != nil {
		if err := capture.Stop(); err != nil {
			c.logger.Debug("Capture stop on deactivate", slog.String("error", err.Error()))
		}
	}

	if c.deps.Collector != nil {
		c.deps.Collector.Discard()
	}

	c.logger.Info("Session deactivated")
}

// IsActive reports whether the session is active
func (c *Coordinator) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// State returns the coordinator's current state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns a copy of the conversation transcript
func (c *Coordinator) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := make([]Message, len(c.history))
	copy(history, c.history)
	return history
}

// beginListening arms a fresh capture session. Any stale capture is
// stopped first so the assistant's own playback is never recorded, and
// nothing arms while a turn is processing.
func (c *Coordinator) beginListening() error {
	c.mu.Lock()
	if !c.active || c.processing {
		c.mu.Unlock()
		return nil
	}

	stale := c.capture
	c.capture = nil
	gen := c.generation
	c.mu.Unlock()

	if stale != nil {
		if err := stale.Stop(); err != nil {
			c.logger.Debug("Stale capture stop", slog.String("error", err.Error()))
		}
	}

	capture, err := c.deps.Capture(c.ctx,
		func(encoded []byte) {
			c.handleInterim(gen, encoded)
		},
		func(encoded []byte, duration time.Duration) {
			c.handleSegment(gen, encoded, duration)
		},
		func(err error) {
			c.handleCaptureError(gen, err)
		})
	if err != nil {
		c.notifyError(fmt.Errorf("failed to start capture: %w", err))
		c.scheduleRetry(gen)
		return fmt.Errorf("failed to start capture: %w", err)
	}

	c.mu.Lock()
	if !c.active || gen != c.generation {
		// Session toggled while the capture was starting
		c.mu.Unlock()
		_ = capture.Stop()
		return nil
	}
	c.capture = capture
	c.setStateLocked(StateListening)
	c.mu.Unlock()

	c.logger.Debug("Listening armed")

	return nil
}

// handleSegment receives one finished encoded segment from capture
func (c *Coordinator) handleSegment(gen uint64, encoded []byte, duration time.Duration) {
	c.mu.Lock()
	if !c.active || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.segmentsReceived++
	c.mu.Unlock()

	c.logger.Debug("Segment captured",
		slog.Int("bytes", len(encoded)),
		slog.Duration("duration", duration))

	switch c.opts.Mode {
	case ModeStreaming:
		// The audio already reached the endpoint through the periodic
		// interim pushes, and transcripts arrive asynchronously; capture
		// re-arms so the next utterance is not lost while this one is in
		// flight
		go func() {
			if err := c.beginListening(); err != nil {
				c.logger.Warn("Failed to re-arm listening", slog.String("error", err.Error()))
			}
		}()

	case ModeBatch:
		text, err := c.deps.Transcriber.Transcribe(c.ctx, encoded, duration)
		if err != nil {
			c.notifyError(fmt.Errorf("transcription failed: %w", err))
			c.scheduleRetry(gen)
			return
		}
		c.finalize(gen, text)
	}
}

// handleInterim pushes audio buffered while speech is active over the
// streaming channel so the endpoint can produce incremental transcripts.
// Each push carries only the samples accumulated since the previous one.
func (c *Coordinator) handleInterim(gen uint64, encoded []byte) {
	c.mu.Lock()
	if !c.active || gen != c.generation || c.processing || c.opts.Mode != ModeStreaming {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.deps.Streamer.SendAudio(encoded); err != nil {
		// The next interim retries naturally; only log
		c.logger.Warn("Failed to push audio", slog.String("error", err.Error()))
	}
}

// handleCaptureError surfaces a capture failure and retries listening
// while the session remains active. No-speech is not an error for the
// user: listening simply re-arms.
func (c *Coordinator) handleCaptureError(gen uint64, err error) {
	if errors.Is(err, ErrNoSpeech) {
		c.logger.Debug("Capture ended without speech, re-arming")
		c.scheduleRetry(gen)
		return
	}

	c.notifyError(fmt.Errorf("capture error: %w", err))
	c.scheduleRetry(gen)
}

// scheduleRetry re-arms listening after the retry delay
func (c *Coordinator) scheduleRetry(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active || gen != c.generation {
		return
	}

	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}

	c.captureRestarts++
	c.retryTimer = time.AfterFunc(c.opts.RetryDelay, func() {
		c.mu.Lock()
		stale := !c.active || gen != c.generation
		c.mu.Unlock()
		if stale {
			return
		}
		if err := c.beginListening(); err != nil {
			c.logger.Warn("Listening retry failed", slog.String("error", err.Error()))
		}
	})
}

// HandleTranscript receives one incremental transcript fragment from the
// streaming channel. Fragments accumulate and the debounce timer restarts
// on every arrival; only an uninterrupted quiet period finalizes the
// utterance.
func (c *Coordinator) HandleTranscript(text string, isFinal bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()

	if !c.active {
		c.mu.Unlock()
		return
	}

	if c.processing {
		// A turn is mid-flight; fragments for the next utterance would
		// interleave turns
		c.turnsDropped++
		c.mu.Unlock()
		c.logger.Debug("Dropping transcript fragment while processing",
			slog.String("text", text))
		return
	}

	c.fragments = append(c.fragments, text)
	joined := strings.Join(c.fragments, " ")
	c.setStateLocked(StateDebouncing)

	gen := c.generation

	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(c.opts.DebounceDelay, func() {
		c.debounceElapsed(gen)
	})

	c.mu.Unlock()

	c.logger.Debug("Transcript fragment",
		slog.String("text", text),
		slog.Bool("is_final", isFinal))

	if c.deps.Observer != nil {
		c.deps.Observer.OnPartial(joined)
	}
}

// debounceElapsed fires when no fragment arrived for a full debounce
// window
func (c *Coordinator) debounceElapsed(gen uint64) {
	c.mu.Lock()
	if !c.active || gen != c.generation || c.processing {
		c.mu.Unlock()
		return
	}

	joined := strings.Join(c.fragments, " ")
	c.fragments = nil
	c.mu.Unlock()

	if strings.TrimSpace(joined) == "" {
		return
	}

	c.finalize(gen, joined)
}

// finalize runs one turn: record the utterance, request the answer, and
// speak it. A turn already in flight drops the new finalize.
func (c *Coordinator) finalize(gen uint64, utterance string) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		c.logger.Debug("Skipping empty utterance")
		return
	}

	c.mu.Lock()
	if !c.active || gen != c.generation {
		c.mu.Unlock()
		return
	}

	if c.processing {
		c.turnsDropped++
		c.mu.Unlock()
		c.logger.Debug("Dropping finalize while a turn is processing",
			slog.String("utterance", utterance))
		return
	}

	c.processing = true
	c.turnID = uuid.NewString()
	c.answer = ""
	c.presented = false
	c.setStateLocked(StateProcessing)

	userMsg := Message{
		ID:   uuid.NewString(),
		Role: RoleUser,
		Text: utterance,
		At:   time.Now(),
	}
	c.history = append(c.history, userMsg)
	capture := c.capture
	c.capture = nil
	turnID := c.turnID
	c.mu.Unlock()

	// Release the microphone while the assistant answers and speaks
	if capture != nil {
		if err := capture.Stop(); err != nil {
			c.logger.Debug("Capture stop before processing", slog.String("error", err.Error()))
		}
	}

	if c.deps.Observer != nil {
		c.deps.Observer.OnMessage(userMsg)
	}

	c.logger.Info("Turn started",
		slog.String("turn_id", turnID),
		slog.String("utterance", utterance))

	answer, err := c.deps.Answerer.Ask(c.ctx, utterance)
	if err != nil {
		c.mu.Lock()
		c.answerFailures++
		c.mu.Unlock()
		c.notifyError(fmt.Errorf("answer request failed: %w", err))
		c.completeTurn(gen)
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		// The session toggled while the answer was in flight; the result
		// belongs to a dead turn
		c.mu.Unlock()
		return
	}
	c.answer = answer
	c.mu.Unlock()

	c.speak(gen, answer)
}

// speak produces audible output for the answer and presents the
// assistant's message when playback starts
func (c *Coordinator) speak(gen uint64, answer string) {
	c.mu.Lock()
	if !c.active || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateSpeaking)
	c.mu.Unlock()

	switch c.opts.Mode {
	case ModeStreaming:
		c.deps.Collector.Open()
		if err := c.deps.Streamer.SendSynthesis(answer); err != nil {
			c.deps.Collector.Discard()
			c.synthesisFallback(gen, fmt.Errorf("synthesis request failed: %w", err))
			return
		}
		// Audio chunks and the end marker arrive via HandleAudio and
		// HandleStreamEnd; the turn completes there

	case ModeBatch:
		clip, err := c.deps.Synthesizer.Synthesize(c.ctx, answer)
		if err != nil {
			c.synthesisFallback(gen, fmt.Errorf("synthesis failed: %w", err))
			return
		}

		c.presentAnswer(gen)

		if err := c.deps.Player.Play(c.ctx, clip); err != nil {
			c.notifyError(fmt.Errorf("playback failed: %w", err))
		}

		c.mu.Lock()
		c.turnsCompleted++
		c.mu.Unlock()
		c.completeTurn(gen)
	}
}

// HandleAudio receives one synthesized-audio chunk from the streaming
// channel
func (c *Coordinator) HandleAudio(chunk []byte) {
	if c.deps.Collector == nil {
		return
	}
	c.deps.Collector.Append(chunk)
}

// HandleStreamEnd receives the end-of-audio-stream marker: the collected
// chunks play as one clip and the turn completes. With zero chunks the
// answer text is still presented.
func (c *Coordinator) HandleStreamEnd() {
	c.mu.Lock()
	if !c.processing {
		c.mu.Unlock()
		return
	}
	gen := c.generation
	c.mu.Unlock()

	err := c.deps.Collector.Finish(c.ctx, func() {
		c.presentAnswer(gen)
	})
	if err != nil {
		c.notifyError(err)
	}

	// Zero collected chunks skips playback entirely; the text must still
	// reach the observer
	c.presentAnswer(gen)

	c.mu.Lock()
	c.turnsCompleted++
	c.mu.Unlock()
	c.completeTurn(gen)
}

// HandleStreamError receives a protocol error from the streaming channel.
// During speaking it triggers the fallback presentation; otherwise it is
// surfaced and listening retries.
func (c *Coordinator) HandleStreamError(err error) {
	c.mu.Lock()
	speaking := c.processing && c.state == StateSpeaking
	gen := c.generation
	c.mu.Unlock()

	if speaking {
		c.deps.Collector.Discard()
		c.synthesisFallback(gen, err)
		return
	}

	c.notifyError(err)
}

// synthesisFallback presents the answer text immediately when no audio
// will be produced, then completes the turn
func (c *Coordinator) synthesisFallback(gen uint64, err error) {
	c.mu.Lock()
	c.synthFallbacks++
	c.mu.Unlock()

	c.notifyError(err)
	c.presentAnswer(gen)
	c.completeTurn(gen)
}

// presentAnswer records and delivers the assistant's message exactly once
// per turn
func (c *Coordinator) presentAnswer(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.presented || c.answer == "" {
		c.mu.Unlock()
		return
	}
	c.presented = true

	msg := Message{
		ID:   uuid.NewString(),
		Role: RoleAssistant,
		Text: c.answer,
		At:   time.Now(),
	}
	c.history = append(c.history, msg)
	c.mu.Unlock()

	if c.deps.Observer != nil {
		c.deps.Observer.OnMessage(msg)
	}
}

// completeTurn clears the processing flag and schedules re-arming. The
// re-arm delay keeps the tail of the assistant's own audio out of the
// next capture.
func (c *Coordinator) completeTurn(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}

	c.processing = false
	c.turnID = ""
	c.answer = ""

	if !c.active {
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		return
	}

	if c.rearmTimer != nil {
		c.rearmTimer.Stop()
	}
	c.rearmTimer = time.AfterFunc(c.opts.RearmDelay, func() {
		c.mu.Lock()
		stale := !c.active || gen != c.generation
		c.mu.Unlock()
		if stale {
			return
		}
		if err := c.beginListening(); err != nil {
			c.logger.Warn("Failed to re-arm listening", slog.String("error", err.Error()))
		}
	})
	c.mu.Unlock()

	c.logger.Debug("Turn complete, re-arm scheduled",
		slog.Duration("delay", c.opts.RearmDelay))
}

// stopTimersLocked cancels all pending timers. Caller holds the mutex.
func (c *Coordinator) stopTimersLocked() {
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	if c.rearmTimer != nil {
		c.rearmTimer.Stop()
		c.rearmTimer = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// setStateLocked transitions state and notifies the observer. Caller
// holds the mutex.
func (c *Coordinator) setStateLocked(state State) {
	if c.state == state {
		return
	}

	c.state = state

	if c.deps.Observer != nil {
		observer := c.deps.Observer
		// Observer runs outside the lock to allow re-entrant queries
		go observer.OnStateChange(state)
	}
}

// notifyError logs and delivers one non-fatal pipeline error
func (c *Coordinator) notifyError(err error) {
	c.logger.Warn("Pipeline error", slog.String("error", err.Error()))

	if c.deps.Observer != nil {
		c.deps.Observer.OnError(err)
	}
}

// GetStats returns current coordinator statistics
func (c *Coordinator) GetStats() CoordinatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CoordinatorStats{
		State:            c.state.String(),
		Active:           c.active,
		Processing:       c.processing,
		TurnsCompleted:   c.turnsCompleted,
		TurnsDropped:     c.turnsDropped,
		CaptureRestarts:  c.captureRestarts,
		AnswerFailures:   c.answerFailures,
		SynthFallbacks:   c.synthFallbacks,
		HistoryLength:    len(c.history),
		SegmentsReceived: c.segmentsReceived,
	}
}
