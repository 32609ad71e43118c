package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pcmBytes encodes float samples as 16-bit little-endian PCM
func pcmBytes(samples []float64) []byte {
	var buf bytes.Buffer
	for _, s := range samples {
		binary.Write(&buf, binary.LittleEndian, int16(s*32767))
	}
	return buf.Bytes()
}

// sineSamples generates a pure tone
func sineSamples(freq float64, sampleRate, n int) []float64 {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.8 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return samples
}

func TestNewPCMSourceValidation(t *testing.T) {
	_, err := NewPCMSource(nil, 16000)
	assert.Error(t, err)

	_, err = NewPCMSource(bytes.NewReader(nil), 0)
	assert.Error(t, err)
}

func TestPCMSourceReadBlock(t *testing.T) {
	data := pcmBytes(sineSamples(440, 16000, 3200))
	source, err := NewPCMSource(bytes.NewReader(data), 16000)
	require.NoError(t, err)

	require.NoError(t, source.Open(context.Background()))
	defer source.Close()

	// The pump drains the whole reader quickly
	var total int
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && total < 3200 {
		block, err := source.ReadBlock()
		require.NoError(t, err)
		total += len(block)
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 3200, total)

	// Subsequent reads return empty blocks, not errors
	block, err := source.ReadBlock()
	require.NoError(t, err)
	assert.Empty(t, block)
}

func TestPCMSourceSpectrumPeak(t *testing.T) {
	// A 1 kHz tone should put its energy near bin 1000/binWidth
	data := pcmBytes(sineSamples(1000, 16000, 4096))
	source, err := NewPCMSource(bytes.NewReader(data), 16000)
	require.NoError(t, err)

	require.NoError(t, source.Open(context.Background()))
	defer source.Close()

	// Wait for the window to fill
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		block, err := source.ReadBlock()
		require.NoError(t, err)
		if len(block) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	bins, binWidth, err := source.Spectrum()
	require.NoError(t, err)
	require.Len(t, bins, 512)
	assert.InDelta(t, 15.625, binWidth, 0.001)

	peak := 0
	for i, v := range bins {
		if v > bins[peak] {
			peak = i
		}
	}

	peakFreq := float64(peak) * binWidth
	assert.InDelta(t, 1000, peakFreq, 2*binWidth)

	// Energy at the peak well above the noise floor
	assert.Greater(t, bins[peak], byte(100))
}

func TestPCMSourceSilenceSpectrum(t *testing.T) {
	data := make([]byte, 8192) // digital silence
	source, err := NewPCMSource(bytes.NewReader(data), 16000)
	require.NoError(t, err)

	require.NoError(t, source.Open(context.Background()))
	defer source.Close()

	time.Sleep(50 * time.Millisecond)

	bins, _, err := source.Spectrum()
	require.NoError(t, err)

	for _, v := range bins {
		assert.Equal(t, byte(0), v)
	}
}

// chunkReader returns one scripted chunk per Read call
type chunkReader struct {
	chunks [][]byte
	next   int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.next >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.next])
	r.next++
	return n, nil
}

func TestPCMSourceSplitSampleAcrossReads(t *testing.T) {
	// Two samples, the second split across reads: a partial read must not
	// shift sample alignment
	reader := &chunkReader{chunks: [][]byte{
		{0x02, 0x01, 0x04},
		{0x03},
	}}

	source, err := NewPCMSource(reader, 16000)
	require.NoError(t, err)

	require.NoError(t, source.Open(context.Background()))
	defer source.Close()

	var samples []float32
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(samples) < 2 {
		block, err := source.ReadBlock()
		require.NoError(t, err)
		samples = append(samples, block...)
		time.Sleep(2 * time.Millisecond)
	}

	require.Len(t, samples, 2)
	assert.InDelta(t, float64(0x0102)/32768.0, float64(samples[0]), 1e-6)
	assert.InDelta(t, float64(0x0304)/32768.0, float64(samples[1]), 1e-6)
}

// gatedReader blocks in Read until fed through the channel
type gatedReader struct {
	ch chan []byte
}

func (r *gatedReader) Read(p []byte) (int, error) {
	data, ok := <-r.ch
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func TestPCMSourceCloseWaitsForPump(t *testing.T) {
	reader := &gatedReader{ch: make(chan []byte)}

	source, err := NewPCMSource(reader, 16000)
	require.NoError(t, err)
	require.NoError(t, source.Open(context.Background()))

	// Let the pump reach its blocking read
	time.Sleep(20 * time.Millisecond)

	var closed atomic.Bool
	go func() {
		if err := source.Close(); err != nil {
			t.Error(err)
		}
		closed.Store(true)
	}()

	// Close must not return while the pump still holds the reader
	time.Sleep(50 * time.Millisecond)
	assert.False(t, closed.Load())

	close(reader.ch)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !closed.Load() {
		time.Sleep(2 * time.Millisecond)
	}
	assert.True(t, closed.Load())
}

func TestPCMSourceReopen(t *testing.T) {
	source, err := NewPCMSource(bytes.NewReader(pcmBytes(sineSamples(440, 16000, 160))), 16000)
	require.NoError(t, err)

	require.NoError(t, source.Open(context.Background()))
	assert.Error(t, source.Open(context.Background()))

	require.NoError(t, source.Close())
	require.NoError(t, source.Close()) // idempotent
}
