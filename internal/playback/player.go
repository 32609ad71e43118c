package playback

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CommandPlayer renders clips by piping them to an external audio player
// (for example "aplay -q -" or "ffplay -nodisp -autoexit -"). Play blocks
// until the command exits, mirroring natural playback completion.
type CommandPlayer struct {
	name   string
	args   []string
	logger *slog.Logger
}

// NewCommandPlayer creates a player from a shell-style command line
func NewCommandPlayer(command string, logger *slog.Logger) (*CommandPlayer, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("player command cannot be empty")
	}

	return &CommandPlayer{
		name:   fields[0],
		args:   fields[1:],
		logger: logger,
	}, nil
}

// Play pipes one clip through the player command
func (p *CommandPlayer) Play(ctx context.Context, clip []byte) error {
	if len(clip) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, p.name, p.args...)
	cmd.Stdin = bytes.NewReader(clip)

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("player command failed: %w", err)
	}

	p.logger.Debug("Clip played",
		slog.Int("bytes", len(clip)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return nil
}

// FilePlayer renders clips by writing each one to a directory, for
// headless deployments where a downstream consumer picks the files up.
type FilePlayer struct {
	dir    string
	logger *slog.Logger
}

// NewFilePlayer creates a player writing clips into the given directory
func NewFilePlayer(dir string, logger *slog.Logger) (*FilePlayer, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &FilePlayer{
		dir:    dir,
		logger: logger,
	}, nil
}

// Play writes one clip to a uniquely named file
func (p *FilePlayer) Play(ctx context.Context, clip []byte) error {
	if len(clip) == 0 {
		return nil
	}

	path := filepath.Join(p.dir, fmt.Sprintf("clip-%s.audio", uuid.NewString()))
	if err := os.WriteFile(path, clip, 0o644); err != nil {
		return fmt.Errorf("failed to write clip: %w", err)
	}

	p.logger.Debug("Clip written",
		slog.String("path", path),
		slog.Int("bytes", len(clip)),
	)

	return nil
}
