package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Turn          TurnConfig          `yaml:"turn"`
	Channel       ChannelConfig       `yaml:"channel"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Answer        AnswerConfig        `yaml:"answer"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	VoiceStore    VoiceStoreConfig    `yaml:"voice_store"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio capture and encoding parameters
type AudioConfig struct {
	SampleRate   int     `yaml:"sample_rate"`
	Channels     int     `yaml:"channels"`
	BitDepth     int     `yaml:"bit_depth"`
	TickInterval float64 `yaml:"tick_interval"` // seconds, VAD evaluation cadence
	Input        string  `yaml:"input"`         // PCM input path, empty or "stdin" for stdin
}

// PlaybackConfig contains assistant audio output configuration
type PlaybackConfig struct {
	Command   string `yaml:"command"`    // external player command, e.g. "aplay -q -"
	OutputDir string `yaml:"output_dir"` // clip output directory when no command is set
}

// VADConfig contains Voice Activity Detection configuration
type VADConfig struct {
	EnergyThreshold   float64 `yaml:"energy_threshold"`
	VarianceThreshold float64 `yaml:"variance_threshold"`
	SilenceDuration   float64 `yaml:"silence_duration"` // seconds
}

// TurnConfig contains turn coordinator configuration
type TurnConfig struct {
	Mode          string  `yaml:"mode"`           // batch or streaming
	DebounceDelay float64 `yaml:"debounce_delay"` // seconds
	RearmDelay    float64 `yaml:"rearm_delay"`    // seconds
	RetryDelay    float64 `yaml:"retry_delay"`    // seconds, relisten delay after capture error
}

// ChannelConfig contains streaming channel configuration
type ChannelConfig struct {
	URL          string  `yaml:"url"`
	Language     string  `yaml:"language"`
	EOSEnabled   bool    `yaml:"eos_enabled"`
	EOSThreshold float64 `yaml:"eos_threshold"`
	SendInterval float64 `yaml:"send_interval"` // seconds, outbound audio cadence
	Dialect      string  `yaml:"dialect"`
	Speaker      string  `yaml:"speaker"`
}

// TranscriptionConfig contains batch transcription API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Prompt        string `yaml:"prompt"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// AnswerConfig contains answer service configuration
type AnswerConfig struct {
	Endpoint string `yaml:"endpoint"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// SynthesisConfig contains speech synthesis service configuration
type SynthesisConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Provider      string `yaml:"provider"`
	VoiceID       string `yaml:"voice_id"`
	InputMode     string `yaml:"input_mode"`
	PerformanceID string `yaml:"performance_id"`
	DialectID     string `yaml:"dialect_id"`
	Timeout       int    `yaml:"timeout"` // seconds
}

// VoiceStoreConfig contains selected-voice persistence configuration
type VoiceStoreConfig struct {
	RedisAddr    string `yaml:"redis_addr"`
	RedisDB      int    `yaml:"redis_db"`
	Key          string `yaml:"key"`
	DefaultVoice string `yaml:"default_voice"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Turn.Validate(); err != nil {
		return fmt.Errorf("turn config: %w", err)
	}

	if err := c.Channel.Validate(); err != nil {
		return fmt.Errorf("channel config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Answer.Validate(); err != nil {
		return fmt.Errorf("answer config: %w", err)
	}

	if err := c.Synthesis.Validate(); err != nil {
		return fmt.Errorf("synthesis config: %w", err)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %f", a.TickInterval)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.EnergyThreshold <= 0 || v.EnergyThreshold > 1 {
		return fmt.Errorf("energy_threshold must be in (0, 1], got %f", v.EnergyThreshold)
	}

	if v.VarianceThreshold <= 0 {
		return fmt.Errorf("variance_threshold must be positive, got %f", v.VarianceThreshold)
	}

	if v.SilenceDuration <= 0 {
		return fmt.Errorf("silence_duration must be positive, got %f", v.SilenceDuration)
	}

	return nil
}

// Validate validates turn coordinator configuration
func (t *TurnConfig) Validate() error {
	if t.Mode != "batch" && t.Mode != "streaming" {
		return fmt.Errorf("mode must be 'batch' or 'streaming', got '%s'", t.Mode)
	}

	if t.DebounceDelay <= 0 {
		return fmt.Errorf("debounce_delay must be positive, got %f", t.DebounceDelay)
	}

	if t.RearmDelay < 0 {
		return fmt.Errorf("rearm_delay cannot be negative, got %f", t.RearmDelay)
	}

	if t.RetryDelay < 0 {
		return fmt.Errorf("retry_delay cannot be negative, got %f", t.RetryDelay)
	}

	return nil
}

// Validate validates streaming channel configuration
func (c *ChannelConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if c.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	if c.EOSThreshold < 0 || c.EOSThreshold > 1 {
		return fmt.Errorf("eos_threshold must be between 0 and 1, got %f", c.EOSThreshold)
	}

	if c.SendInterval <= 0 || c.SendInterval > 0.5 {
		return fmt.Errorf("send_interval must be in (0, 0.5] seconds, got %f", c.SendInterval)
	}

	return nil
}

// Validate validates batch transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates answer service configuration
func (a *AnswerConfig) Validate() error {
	if a.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}

	return nil
}

// Validate validates synthesis service configuration
func (s *SynthesisConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.Provider == "" {
		return fmt.Errorf("provider cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	return nil
}

// Validate validates playback configuration
func (p *PlaybackConfig) Validate() error {
	if p.Command == "" && p.OutputDir == "" {
		return fmt.Errorf("either command or output_dir must be set")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTickInterval returns the VAD tick interval as a time.Duration
func (a *AudioConfig) GetTickInterval() time.Duration {
	return time.Duration(a.TickInterval * float64(time.Second))
}

// GetSilenceDuration returns the VAD silence duration as a time.Duration
func (v *VADConfig) GetSilenceDuration() time.Duration {
	return time.Duration(v.SilenceDuration * float64(time.Second))
}

// GetDebounceDelay returns the transcript debounce delay as a time.Duration
func (t *TurnConfig) GetDebounceDelay() time.Duration {
	return time.Duration(t.DebounceDelay * float64(time.Second))
}

// GetRearmDelay returns the relisten delay as a time.Duration
func (t *TurnConfig) GetRearmDelay() time.Duration {
	return time.Duration(t.RearmDelay * float64(time.Second))
}

// GetRetryDelay returns the capture error retry delay as a time.Duration
func (t *TurnConfig) GetRetryDelay() time.Duration {
	return time.Duration(t.RetryDelay * float64(time.Second))
}

// GetSendInterval returns the outbound audio cadence as a time.Duration
func (c *ChannelConfig) GetSendInterval() time.Duration {
	return time.Duration(c.SendInterval * float64(time.Second))
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the answer request timeout as a time.Duration
func (a *AnswerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetTimeoutDuration returns the synthesis request timeout as a time.Duration
func (s *SynthesisConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}
