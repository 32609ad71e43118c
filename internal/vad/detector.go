package vad

import (
	"fmt"
	"sync"
	"time"
)

// State represents the detector state machine position.
type State int

const (
	// StateIdle means no speech has been detected in the current segment.
	StateIdle State = iota
	// StateSpeech means the most recent tick passed the speech test.
	StateSpeech
	// StateTrailingSilence means speech was detected and the detector is
	// waiting out the configured silence duration.
	StateTrailingSilence
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeech:
		return "speech"
	case StateTrailingSilence:
		return "trailing_silence"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Event represents a segmentation event emitted by a tick.
type Event int

const (
	// EventNone means the tick produced no boundary event.
	EventNone Event = iota
	// EventSpeechStart fires on the first speech tick of a segment.
	EventSpeechStart
	// EventEndOfSpeech fires once the trailing silence window elapses
	// after speech was detected.
	EventEndOfSpeech
)

const (
	// LowBandHz is the lower bound of the analyzed frequency band.
	// Human voice fundamentals start around 85 Hz.
	LowBandHz = 85.0
	// HighBandHz is the upper bound of the analyzed frequency band,
	// covering voice harmonics up to 3 kHz.
	HighBandHz = 3000.0
)

// Config contains detector tuning parameters
type Config struct {
	// EnergyThreshold is the normalized [0,1] mean band energy above which
	// a tick may count as speech.
	EnergyThreshold float64
	// VarianceThreshold is the population variance of raw bin energies above
	// which a tick may count as speech. Energy alone cannot distinguish
	// steady noise from speech; variance captures spectral dynamism.
	VarianceThreshold float64
	// SilenceDuration is how long trailing silence must last before the
	// detector declares end of speech.
	SilenceDuration time.Duration
}

// DefaultConfig returns the empirically tuned default detector configuration
func DefaultConfig() Config {
	return Config{
		EnergyThreshold:   0.01,
		VarianceThreshold: 1000,
		SilenceDuration:   800 * time.Millisecond,
	}
}

// TickResult represents the outcome of processing one frequency snapshot
type TickResult struct {
	State    State   `json:"state"`
	Event    Event   `json:"-"`
	Average  float64 `json:"average"`  // Normalized mean band energy [0,1]
	Variance float64 `json:"variance"` // Population variance of raw bin energies
	Speech   bool    `json:"speech"`   // Whether this tick passed the speech test
}

// DetectorStats represents detector statistics for monitoring
type DetectorStats struct {
	State          string    `json:"state"`
	TotalTicks     uint64    `json:"total_ticks"`
	SpeechTicks    uint64    `json:"speech_ticks"`
	SpeechRatio    float64   `json:"speech_ratio"`
	SpeechDetected bool      `json:"speech_detected"`
	LastTick       time.Time `json:"last_tick"`
}

// Detector segments a live stream of frequency-domain energy snapshots into
// speech and silence using an energy-plus-variance heuristic over the
// speech-relevant band. It is re-evaluated on a fixed tick interval by its
// owning capture session and is not safe to share between sessions.
type Detector struct {
	config Config

	// State machine
	state          State
	speechDetected bool
	silenceStart   time.Time

	// Statistics
	totalTicks  uint64
	speechTicks uint64
	lastTick    time.Time

	now func() time.Time

	mu sync.RWMutex
}

// NewDetector creates a new voice activity detector
func NewDetector(config Config) (*Detector, error) {
	if config.EnergyThreshold <= 0 || config.EnergyThreshold > 1 {
		return nil, fmt.Errorf("energy threshold must be in (0, 1], got %f", config.EnergyThreshold)
	}

	if config.VarianceThreshold <= 0 {
		return nil, fmt.Errorf("variance threshold must be positive, got %f", config.VarianceThreshold)
	}

	if config.SilenceDuration <= 0 {
		return nil, fmt.Errorf("silence duration must be positive, got %v", config.SilenceDuration)
	}

	return &Detector{
		config: config,
		state:  StateIdle,
		now:    time.Now,
	}, nil
}

// Tick processes one frequency-domain snapshot and advances the state machine.
// bins holds per-bin energy magnitudes on a 0-255 scale; binWidthHz is the
// frequency width each bin covers. Analysis is restricted to the
// LowBandHz-HighBandHz band.
func (d *Detector) Tick(bins []byte, binWidthHz float64) TickResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.totalTicks++
	d.lastTick = now

	average, variance := bandStats(bins, binWidthHz)
	speech := average > d.config.EnergyThreshold && variance > d.config.VarianceThreshold

	result := TickResult{
		Average:  average,
		Variance: variance,
		Speech:   speech,
	}

	if speech {
		d.speechTicks++

		// Any speech tick cancels a running silence timer.
		d.silenceStart = time.Time{}

		if !d.speechDetected {
			d.speechDetected = true
			result.Event = EventSpeechStart
		}
		d.state = StateSpeech
	} else if d.speechDetected {
		if d.silenceStart.IsZero() {
			// First silent tick after speech starts the silence timer.
			d.state = StateTrailingSilence
			d.silenceStart = now
		} else if now.Sub(d.silenceStart) > d.config.SilenceDuration {
			// Silence window elapsed without interruption.
			d.state = StateIdle
			d.speechDetected = false
			d.silenceStart = time.Time{}
			result.Event = EventEndOfSpeech
		}
	}
	// Silence with no prior speech leaves the detector idle and emits nothing,
	// so pure background noise never produces an end-of-speech event.

	result.State = d.state
	return result
}

// State returns the current state machine position
func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// SpeechDetected returns whether any speech has been detected in the
// current segment.
func (d *Detector) SpeechDetected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.speechDetected
}

// Reset returns the detector to idle and clears segment state
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state = StateIdle
	d.speechDetected = false
	d.silenceStart = time.Time{}
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ratio := float64(0)
	if d.totalTicks > 0 {
		ratio = float64(d.speechTicks) / float64(d.totalTicks)
	}

	return DetectorStats{
		State:          d.state.String(),
		TotalTicks:     d.totalTicks,
		SpeechTicks:    d.speechTicks,
		SpeechRatio:    ratio,
		SpeechDetected: d.speechDetected,
		LastTick:       d.lastTick,
	}
}

// bandStats computes the normalized mean and population variance of the bin
// energies that fall inside the speech-relevant frequency band.
func bandStats(bins []byte, binWidthHz float64) (average, variance float64) {
	if len(bins) == 0 || binWidthHz <= 0 {
		return 0, 0
	}

	lowBin := int(LowBandHz / binWidthHz)
	highBin := int(HighBandHz / binWidthHz)

	if highBin > len(bins) {
		highBin = len(bins)
	}
	if lowBin >= highBin {
		return 0, 0
	}

	count := float64(highBin - lowBin)

	var sum float64
	for i := lowBin; i < highBin; i++ {
		sum += float64(bins[i])
	}
	mean := sum / count
	average = mean / 255

	var sqSum float64
	for i := lowBin; i < highBin; i++ {
		diff := float64(bins[i]) - mean
		sqSum += diff * diff
	}
	variance = sqSum / count

	return average, variance
}
