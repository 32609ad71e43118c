package playback

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePlayerWritesClip(t *testing.T) {
	dir := t.TempDir()
	player, err := NewFilePlayer(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, player.Play(context.Background(), []byte{0x01, 0x02, 0x03}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, data)
}

func TestFilePlayerEmptyClipIsNoOp(t *testing.T) {
	dir := t.TempDir()
	player, err := NewFilePlayer(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, player.Play(context.Background(), nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewFilePlayerValidation(t *testing.T) {
	_, err := NewFilePlayer("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestNewCommandPlayerValidation(t *testing.T) {
	_, err := NewCommandPlayer("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)

	_, err = NewCommandPlayer("   ", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)

	player, err := NewCommandPlayer("cat", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	// cat consumes stdin and exits, standing in for a real audio player
	assert.NoError(t, player.Play(context.Background(), []byte{0x01}))
}

func TestCommandPlayerFailure(t *testing.T) {
	player, err := NewCommandPlayer("false", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	assert.Error(t, player.Play(context.Background(), []byte{0x01}))
}
