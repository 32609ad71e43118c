package voicestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Config contains voice store configuration
type Config struct {
	RedisAddr    string
	RedisDB      int
	Key          string
	DefaultVoice string
}

// StoreStats represents voice store statistics for monitoring
type StoreStats struct {
	Reads           uint64 `json:"reads"`
	Writes          uint64 `json:"writes"`
	DefaultFallback uint64 `json:"default_fallbacks"`
}

// Store persists the selected synthesis voice across restarts. Reads fall
// back to the configured default when no selection has been saved.
type Store struct {
	config Config
	client *redis.Client
	logger *slog.Logger

	// Statistics
	reads            uint64
	writes           uint64
	defaultFallbacks uint64

	mu sync.Mutex
}

// NewStore creates a voice store backed by the given redis instance
func NewStore(config Config, logger *slog.Logger) (*Store, error) {
	if config.RedisAddr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	if config.Key == "" {
		config.Key = "voiceagent:selected_voice"
	}

	client := redis.NewClient(&redis.Options{
		Addr: config.RedisAddr,
		DB:   config.RedisDB,
	})

	return &Store{
		config: config,
		client: client,
		logger: logger,
	}, nil
}

// Get returns the selected voice id, or the configured default when no
// selection exists
func (s *Store) Get(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()

	voice, err := s.client.Get(ctx, s.config.Key).Result()
	if errors.Is(err, redis.Nil) {
		s.mu.Lock()
		s.defaultFallbacks++
		s.mu.Unlock()

		s.logger.Debug("No stored voice selection, using default",
			slog.String("voice", s.config.DefaultVoice))
		return s.config.DefaultVoice, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read voice selection: %w", err)
	}

	return voice, nil
}

// Set persists a new voice selection
func (s *Store) Set(ctx context.Context, voice string) error {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return fmt.Errorf("voice id cannot be empty")
	}

	if err := s.client.Set(ctx, s.config.Key, voice, 0).Err(); err != nil {
		return fmt.Errorf("failed to store voice selection: %w", err)
	}

	s.mu.Lock()
	s.writes++
	s.mu.Unlock()

	s.logger.Info("Voice selection stored", slog.String("voice", voice))

	return nil
}

// Ping verifies connectivity to the backing store
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("voice store unreachable: %w", err)
	}
	return nil
}

// Close releases the redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// GetStats returns current voice store statistics
func (s *Store) GetStats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StoreStats{
		Reads:           s.reads,
		Writes:          s.writes,
		DefaultFallback: s.defaultFallbacks,
	}
}
