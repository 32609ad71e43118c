package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlayer records played clips
type fakePlayer struct {
	mu    sync.Mutex
	clips [][]byte
	err   error
}

func (p *fakePlayer) Play(ctx context.Context, clip []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.clips = append(p.clips, append([]byte(nil), clip...))
	return nil
}

func TestNewBufferRequiresPlayer(t *testing.T) {
	_, err := NewBuffer(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestFinishConcatenatesInArrivalOrder(t *testing.T) {
	player := &fakePlayer{}
	buffer, err := NewBuffer(player, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	buffer.Open()
	assert.True(t, buffer.IsOpen())
	assert.True(t, buffer.Append([]byte{0x01, 0x02}))
	assert.True(t, buffer.Append([]byte{0x03}))

	started := false
	require.NoError(t, buffer.Finish(context.Background(), func() { started = true }))

	assert.True(t, started)
	assert.False(t, buffer.IsOpen())
	require.Len(t, player.clips, 1)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, player.clips[0])

	stats := buffer.GetStats()
	assert.Equal(t, uint64(1), stats.ClipsPlayed)
	assert.Equal(t, uint64(3), stats.BytesPlayed)
	assert.Equal(t, 0, stats.PendingChunks)
}

func TestFinishWithNoChunksIsNoOp(t *testing.T) {
	player := &fakePlayer{}
	buffer, err := NewBuffer(player, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	buffer.Open()

	started := false
	require.NoError(t, buffer.Finish(context.Background(), func() { started = true }))

	assert.False(t, started)
	assert.Empty(t, player.clips)
	assert.False(t, buffer.IsOpen())

	stats := buffer.GetStats()
	assert.Equal(t, uint64(1), stats.EmptyFinishes)
	assert.Equal(t, uint64(0), stats.ClipsPlayed)
}

func TestAppendOutsideWindowIsDropped(t *testing.T) {
	player := &fakePlayer{}
	buffer, err := NewBuffer(player, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	assert.False(t, buffer.Append([]byte{0x01}))

	buffer.Open()
	assert.True(t, buffer.Append([]byte{0x02}))
	require.NoError(t, buffer.Finish(context.Background(), nil))

	assert.False(t, buffer.Append([]byte{0x03}))

	require.Len(t, player.clips, 1)
	assert.Equal(t, []byte{0x02}, player.clips[0])
}

func TestPlayerFailureStillClearsBuffer(t *testing.T) {
	player := &fakePlayer{err: errors.New("device busy")}
	buffer, err := NewBuffer(player, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	buffer.Open()
	buffer.Append([]byte{0x01})

	err = buffer.Finish(context.Background(), nil)
	assert.Error(t, err)

	stats := buffer.GetStats()
	assert.Equal(t, 0, stats.PendingChunks)
	assert.False(t, stats.Open)
	assert.Equal(t, uint64(0), stats.ClipsPlayed)
}

func TestDiscardDropsChunks(t *testing.T) {
	player := &fakePlayer{}
	buffer, err := NewBuffer(player, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	buffer.Open()
	buffer.Append([]byte{0x01})
	buffer.Discard()

	assert.False(t, buffer.IsOpen())

	// A later finish has nothing to play
	require.NoError(t, buffer.Finish(context.Background(), nil))
	assert.Empty(t, player.clips)

	stats := buffer.GetStats()
	assert.Equal(t, uint64(1), stats.Discards)
}

func TestOpenDropsStaleChunks(t *testing.T) {
	player := &fakePlayer{}
	buffer, err := NewBuffer(player, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	buffer.Open()
	buffer.Append([]byte{0x01})

	buffer.Open()
	buffer.Append([]byte{0x02})
	require.NoError(t, buffer.Finish(context.Background(), nil))

	require.Len(t, player.clips, 1)
	assert.Equal(t, []byte{0x02}, player.clips[0])
}
