package hardware

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"
)

// AudioSink plays PCM to the transmitter audio input.
type AudioSink interface {
	// Play blocks until the audio has been played or ctx is done.
	Play(ctx context.Context, pcm []byte, sampleRate int) error
	SampleRate() int
	Ping(ctx context.Context) error
}

// AudioSource captures 16-bit mono PCM from the receiver.
type AudioSource interface {
	// ReadFrame fills buf and returns the number of samples read.
	ReadFrame(ctx context.Context, buf []int16) (int, error)
	SampleRate() int
	Ping(ctx context.Context) error
}

// PacedSink writes each played clip to a WAV file and holds the caller
// for the clip's real duration.
type PacedSink struct {
	dir  string
	rate int

	mu    sync.Mutex
	count int
}

// NewPacedSink creates a sink that archives clips under dir.
func NewPacedSink(dir string, sampleRate int) *PacedSink {
	return &PacedSink{dir: dir, rate: sampleRate}
}

func (s *PacedSink) SampleRate() int { return s.rate }

func (s *PacedSink) Ping(ctx context.Context) error {
	if s.dir == "" {
		return nil
	}
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}

func (s *PacedSink) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if sampleRate != s.rate {
		var err error
		if pcm, err = Resample(pcm, sampleRate, s.rate); err != nil {
			return err
		}
	}
	if s.dir != "" {
		s.mu.Lock()
		s.count++
		name := filepath.Join(s.dir, fmt.Sprintf("tx_%04d.wav", s.count))
		s.mu.Unlock()
		if err := os.WriteFile(name, EncodeWAV(pcm, s.rate), 0644); err != nil {
			return fmt.Errorf("archive transmit audio: %w", err)
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(PCMDuration(len(pcm), s.rate)):
		return nil
	}
}

// ChannelSource yields PCM pushed by another goroutine and silence when
// nothing is queued. It backs simulated receivers and tests.
type ChannelSource struct {
	rate  int
	frame time.Duration

	mu      sync.Mutex
	pending []int16
	closed  bool
	PingErr error
}

// NewChannelSource creates a source paced at one frame per frame duration.
func NewChannelSource(sampleRate int, frame time.Duration) *ChannelSource {
	return &ChannelSource{rate: sampleRate, frame: frame}
}

// Push queues samples for delivery.
func (c *ChannelSource) Push(samples []int16) {
	c.mu.Lock()
	c.pending = append(c.pending, samples...)
	c.mu.Unlock()
}

// Close makes subsequent reads return io.EOF once drained.
func (c *ChannelSource) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *ChannelSource) SampleRate() int { return c.rate }

func (c *ChannelSource) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.PingErr
}

func (c *ChannelSource) ReadFrame(ctx context.Context, buf []int16) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(c.frame):
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		if c.closed {
			return 0, io.EOF
		}
		for i := range buf {
			buf[i] = 0
		}
		return len(buf), nil
	}
	n := copy(buf, c.pending)
	c.pending = c.pending[n:]
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return len(buf), nil
}

// PCMDuration returns the play time of 16-bit mono PCM.
func PCMDuration(numBytes, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := numBytes / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Resample converts 16-bit mono PCM between sample rates.
func Resample(pcm []byte, from, to int) ([]byte, error) {
	if from == to || len(pcm) < 2 {
		return pcm, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	samples := BytesToSamples(pcm)
	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s) / 32768.0
	}
	out, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	res := make([]int16, len(out))
	for i, v := range out {
		v *= 32768.0
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		res[i] = int16(v)
	}
	return SamplesToBytes(res), nil
}

// GenerateTones renders consecutive sine tones, each lasting durationMs.
func GenerateTones(freqs []int, durationMs, sampleRate int) []byte {
	perTone := sampleRate * durationMs / 1000
	out := make([]int16, 0, perTone*len(freqs))
	for _, f := range freqs {
		for i := 0; i < perTone; i++ {
			v := 0.5 * math.Sin(2*math.Pi*float64(f)*float64(i)/float64(sampleRate))
			out = append(out, int16(v*math.MaxInt16))
		}
	}
	return SamplesToBytes(out)
}

// BytesToSamples decodes little-endian 16-bit PCM.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// EncodeWAV wraps mono 16-bit PCM in a RIFF header.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// DecodeWAV extracts mono 16-bit PCM and its sample rate. Data that does
// not start with a RIFF header is returned unchanged with rate 0.
func DecodeWAV(data []byte) (pcm []byte, sampleRate int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return data, 0, nil
	}
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("wav: short fmt chunk")
			}
			if bits := binary.LittleEndian.Uint16(data[body+14:]); bits != 16 {
				return nil, 0, fmt.Errorf("wav: unsupported bit depth %d", bits)
			}
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
		case "data":
			return data[body : body+size], sampleRate, nil
		}
		pos = body + size + size%2
	}
	return nil, 0, errors.New("wav: no data chunk")
}
