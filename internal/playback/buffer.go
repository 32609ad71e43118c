package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Player renders one complete audio clip. Play blocks until playback
// finishes or the context is cancelled.
type Player interface {
	Play(ctx context.Context, clip []byte) error
}

// BufferStats represents playback buffer statistics for monitoring
type BufferStats struct {
	Open          bool   `json:"open"`
	PendingChunks int    `json:"pending_chunks"`
	ClipsPlayed   uint64 `json:"clips_played"`
	EmptyFinishes uint64 `json:"empty_finishes"`
	BytesPlayed   uint64 `json:"bytes_played"`
	Discards      uint64 `json:"discards"`
}

// Buffer collects synthesized audio chunks inside an explicit collection
// window and plays them as one continuous clip when the window finishes.
// Chunks arriving outside an open window are dropped.
type Buffer struct {
	player Player
	logger *slog.Logger

	open   bool
	chunks [][]byte

	// Statistics
	clipsPlayed   uint64
	emptyFinishes uint64
	bytesPlayed   uint64
	discards      uint64

	mu sync.Mutex
}

// NewBuffer creates a playback buffer backed by the given player
func NewBuffer(player Player, logger *slog.Logger) (*Buffer, error) {
	if player == nil {
		return nil, fmt.Errorf("player cannot be nil")
	}

	return &Buffer{
		player: player,
		logger: logger,
	}, nil
}

// Open begins a collection window. Any chunks left from a previous window
// are dropped.
func (b *Buffer) Open() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) > 0 {
		b.discards++
	}
	b.chunks = nil
	b.open = true
}

// Append records one chunk in arrival order. Returns false when no window
// is open and the chunk was dropped.
func (b *Buffer) Append(chunk []byte) bool {
	if len(chunk) == 0 {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		b.logger.Debug("Dropping audio chunk outside collection window",
			slog.Int("bytes", len(chunk)))
		return false
	}

	b.chunks = append(b.chunks, chunk)
	return true
}

// IsOpen reports whether a collection window is currently open
func (b *Buffer) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Finish closes the window, concatenates the collected chunks, and plays
// the clip once. onStart fires immediately before playback begins. With
// zero collected chunks Finish is a no-op and onStart never fires. The
// buffer is cleared on every outcome.
func (b *Buffer) Finish(ctx context.Context, onStart func()) error {
	b.mu.Lock()
	chunks := b.chunks
	b.chunks = nil
	b.open = false
	b.mu.Unlock()

	if len(chunks) == 0 {
		b.mu.Lock()
		b.emptyFinishes++
		b.mu.Unlock()

		b.logger.Debug("Playback window finished with no audio")
		return nil
	}

	total := 0
	for _, chunk := range chunks {
		total += len(chunk)
	}

	clip := make([]byte, 0, total)
	for _, chunk := range chunks {
		clip = append(clip, chunk...)
	}

	b.logger.Debug("Playing synthesized clip",
		slog.Int("chunks", len(chunks)),
		slog.Int("bytes", total))

	if onStart != nil {
		onStart()
	}

	if err := b.player.Play(ctx, clip); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}

	b.mu.Lock()
	b.clipsPlayed++
	b.bytesPlayed += uint64(total)
	b.mu.Unlock()

	return nil
}

// Discard closes the window and drops any collected chunks without playing
func (b *Buffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) > 0 || b.open {
		b.discards++
	}
	b.chunks = nil
	b.open = false
}

// GetStats returns current playback buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BufferStats{
		Open:          b.open,
		PendingChunks: len(b.chunks),
		ClipsPlayed:   b.clipsPlayed,
		EmptyFinishes: b.emptyFinishes,
		BytesPlayed:   b.bytesPlayed,
		Discards:      b.discards,
	}
}
