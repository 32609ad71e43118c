package voicestore

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)

	store, err := NewStore(Config{
		RedisAddr:    mr.Addr(),
		Key:          "test:selected_voice",
		DefaultVoice: "voice-default",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestGetFallsBackToDefault(t *testing.T) {
	store := newTestStore(t)

	voice, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "voice-default", voice)

	stats := store.GetStats()
	assert.Equal(t, uint64(1), stats.DefaultFallback)
}

func TestSetThenGet(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set(context.Background(), "voice-sara"))

	voice, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "voice-sara", voice)

	// Selection survives overwrite
	require.NoError(t, store.Set(context.Background(), "voice-omar"))

	voice, err = store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "voice-omar", voice)

	stats := store.GetStats()
	assert.Equal(t, uint64(2), stats.Writes)
	assert.Equal(t, uint64(0), stats.DefaultFallback)
}

func TestSetRejectsEmptyVoice(t *testing.T) {
	store := newTestStore(t)

	assert.Error(t, store.Set(context.Background(), ""))
	assert.Error(t, store.Set(context.Background(), "   "))
}

func TestPing(t *testing.T) {
	store := newTestStore(t)

	assert.NoError(t, store.Ping(context.Background()))
}
