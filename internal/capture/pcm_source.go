package capture

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/cmplx"
	"sync"
)

const (
	// fftSize is the analysis window length in samples
	fftSize = 1024

	// Decibel range mapped onto the 0-255 bin scale
	minDecibels = -100.0
	maxDecibels = -30.0
)

// PCMSource adapts a raw 16-bit little-endian mono PCM stream (a capture
// device pipe, a FIFO fed by an external recorder) into a capture Source.
// A pump goroutine drains the reader continuously; ReadBlock hands out the
// samples accumulated since the previous call and Spectrum computes a
// frequency-energy snapshot over the most recent analysis window.
//
// Close detaches from the stream without closing the underlying reader,
// so consecutive sessions can share one input.
type PCMSource struct {
	reader     io.Reader
	sampleRate int

	pending []float32
	window  [fftSize]float32
	wpos    int
	readErr error

	// Unpaired trailing byte from the previous read; pipes legitimately
	// return odd byte counts
	carry    byte
	hasCarry bool

	cancel context.CancelFunc
	done   chan struct{}

	mu sync.Mutex
}

// NewPCMSource creates a source draining the given PCM stream
func NewPCMSource(reader io.Reader, sampleRate int) (*PCMSource, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &PCMSource{
		reader:     reader,
		sampleRate: sampleRate,
	}, nil
}

// Open starts the pump goroutine
func (p *PCMSource) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return fmt.Errorf("source already open")
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.readErr = nil
	p.pending = nil
	p.hasCarry = false

	go p.pump(pumpCtx)

	return nil
}

// pump drains the reader into the pending buffer and the analysis window
func (p *PCMSource) pump(ctx context.Context) {
	defer close(p.done)

	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := p.reader.Read(buf)
		if n > 0 {
			p.ingest(buf[:n])
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				p.mu.Lock()
				p.readErr = err
				p.mu.Unlock()
			}
			return
		}
	}
}

// ingest converts raw bytes to float samples in [-1, 1]. An odd trailing
// byte carries over to the next call so sample alignment survives partial
// reads.
func (p *PCMSource) ingest(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := 0
	if p.hasCarry && len(data) > 0 {
		p.pushSampleLocked(p.carry, data[0])
		p.hasCarry = false
		i = 1
	}

	for ; i+1 < len(data); i += 2 {
		p.pushSampleLocked(data[i], data[i+1])
	}

	if i < len(data) {
		p.carry = data[i]
		p.hasCarry = true
	}
}

// pushSampleLocked appends one little-endian sample. Caller holds the
// mutex.
func (p *PCMSource) pushSampleLocked(lo, hi byte) {
	raw := int16(uint16(lo) | uint16(hi)<<8)
	sample := float32(raw) / 32768.0

	p.pending = append(p.pending, sample)
	p.window[p.wpos] = sample
	p.wpos = (p.wpos + 1) % fftSize
}

// ReadBlock returns the samples accumulated since the previous call
func (p *PCMSource) ReadBlock() ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readErr != nil {
		return nil, p.readErr
	}

	block := p.pending
	p.pending = nil
	return block, nil
}

// Spectrum computes the frequency-energy snapshot of the most recent
// analysis window: per-bin magnitudes mapped from a -100..-30 dB range
// onto 0-255, with the bin width in Hz.
func (p *PCMSource) Spectrum() ([]byte, float64, error) {
	p.mu.Lock()
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return nil, 0, err
	}

	// Unroll the ring so samples are in chronological order
	samples := make([]float64, fftSize)
	for i := 0; i < fftSize; i++ {
		samples[i] = float64(p.window[(p.wpos+i)%fftSize])
	}
	p.mu.Unlock()

	// Hann window
	for i := range samples {
		samples[i] *= 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(fftSize-1)))
	}

	spectrum := fft(samples)

	// Only the first half carries unique frequency content
	bins := make([]byte, fftSize/2)
	for i := range bins {
		magnitude := cmplx.Abs(spectrum[i]) * 2 / fftSize
		db := -math.MaxFloat64
		if magnitude > 0 {
			db = 20 * math.Log10(magnitude)
		}

		scaled := (db - minDecibels) / (maxDecibels - minDecibels) * 255
		if scaled < 0 {
			scaled = 0
		} else if scaled > 255 {
			scaled = 255
		}
		bins[i] = byte(scaled)
	}

	binWidth := float64(p.sampleRate) / float64(fftSize)

	return bins, binWidth, nil
}

// Close stops the pump without closing the underlying reader. It blocks
// until the pump has exited, so a successor source over the same stream
// never reads it concurrently.
func (p *PCMSource) Close() error {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	// The pump returns on its next read completion
	<-done

	return nil
}

// fft computes the discrete Fourier transform with an iterative radix-2
// butterfly. The input length must be a power of two.
func fft(samples []float64) []complex128 {
	n := len(samples)

	// Bit-reversal permutation
	out := make([]complex128, n)
	bits := 0
	for 1<<bits < n {
		bits++
	}
	for i := 0; i < n; i++ {
		rev := 0
		for b := 0; b < bits; b++ {
			if i&(1<<b) != 0 {
				rev |= 1 << (bits - 1 - b)
			}
		}
		out[rev] = complex(samples[i], 0)
	}

	for size := 2; size <= n; size *= 2 {
		half := size / 2
		step := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := 0; k < half; k++ {
				even := out[start+k]
				odd := out[start+k+half] * w
				out[start+k] = even + odd
				out[start+k+half] = even - odd
				w *= step
			}
		}
	}

	return out
}
