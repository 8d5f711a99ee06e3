//go:build portaudio

package hardware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// SoundCardSupported reports whether this build drives real audio devices.
const SoundCardSupported = true

var (
	paOnce sync.Once
	paErr  error
)

func initPortAudio() error {
	paOnce.Do(func() { paErr = portaudio.Initialize() })
	if paErr != nil {
		return fmt.Errorf("initialize portaudio: %w", paErr)
	}
	return nil
}

// ListAudioDevices enumerates host audio devices.
func ListAudioDevices() ([]AudioDevice, error) {
	if err := initPortAudio(); err != nil {
		return nil, err
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	out := make([]AudioDevice, 0, len(infos))
	for _, d := range infos {
		dev := AudioDevice{
			Index:         d.Index,
			Name:          d.Name,
			Inputs:        d.MaxInputChannels,
			Outputs:       d.MaxOutputChannels,
			SampleRate:    d.DefaultSampleRate,
			DefaultInput:  defIn != nil && defIn.Index == d.Index,
			DefaultOutput: defOut != nil && defOut.Index == d.Index,
		}
		if d.HostApi != nil {
			dev.HostAPI = d.HostApi.Name
		}
		out = append(out, dev)
	}
	return out, nil
}

func lookupDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	devices, err := ListAudioDevices()
	if err != nil {
		return nil, err
	}
	picked, err := pickDevice(devices, name, input)
	if err != nil {
		return nil, err
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	for _, d := range infos {
		if d.Index == picked.Index {
			return d, nil
		}
	}
	return nil, fmt.Errorf("audio device %q disappeared", picked.Name)
}

// soundCardInput captures mono 16-bit PCM with blocking PortAudio reads.
// The stream opens on the first read so probing never holds the device.
type soundCardInput struct {
	device string
	rate   int

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

// NewSoundCardInput opens the named capture device.
func NewSoundCardInput(device string, sampleRate int, frame time.Duration) (AudioSource, error) {
	if _, err := lookupDevice(device, true); err != nil {
		return nil, err
	}
	return &soundCardInput{device: device, rate: sampleRate}, nil
}

func (s *soundCardInput) SampleRate() int { return s.rate }

func (s *soundCardInput) Ping(ctx context.Context) error {
	_, err := lookupDevice(s.device, true)
	return err
}

func (s *soundCardInput) ReadFrame(ctx context.Context, buf []int16) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.EOF
	}
	if s.stream == nil || len(s.buf) != len(buf) {
		if err := s.openLocked(len(buf)); err != nil {
			return 0, err
		}
	}
	if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return 0, fmt.Errorf("read audio input: %w", err)
	}
	return copy(buf, s.buf), nil
}

func (s *soundCardInput) openLocked(frames int) error {
	s.closeLocked()
	dev, err := lookupDevice(s.device, true)
	if err != nil {
		return err
	}
	p := portaudio.HighLatencyParameters(dev, nil)
	p.Input.Channels = 1
	p.SampleRate = float64(s.rate)
	p.FramesPerBuffer = frames
	s.buf = make([]int16, frames)
	stream, err := portaudio.OpenStream(p, s.buf)
	if err != nil {
		return fmt.Errorf("open %s: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start %s: %w", dev.Name, err)
	}
	s.stream = stream
	return nil
}

func (s *soundCardInput) closeLocked() error {
	if s.stream == nil {
		return nil
	}
	s.stream.Stop()
	err := s.stream.Close()
	s.stream = nil
	return err
}

// Close stops capture; later reads return io.EOF.
func (s *soundCardInput) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeLocked()
}

// soundCardOutput plays mono 16-bit PCM in 20ms blocking writes so a
// cancelled context stops playback within one buffer.
type soundCardOutput struct {
	device string
	rate   int

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

// NewSoundCardOutput opens the named playback device.
func NewSoundCardOutput(device string, sampleRate int) (AudioSink, error) {
	if _, err := lookupDevice(device, false); err != nil {
		return nil, err
	}
	return &soundCardOutput{device: device, rate: sampleRate}, nil
}

func (s *soundCardOutput) SampleRate() int { return s.rate }

func (s *soundCardOutput) Ping(ctx context.Context) error {
	_, err := lookupDevice(s.device, false)
	return err
}

func (s *soundCardOutput) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if sampleRate != s.rate {
		var err error
		if pcm, err = Resample(pcm, sampleRate, s.rate); err != nil {
			return err
		}
	}
	samples := BytesToSamples(pcm)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("audio output closed")
	}
	if s.stream == nil {
		if err := s.openLocked(); err != nil {
			return err
		}
	}
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("start audio output: %w", err)
	}
	for off := 0; off < len(samples); off += len(s.buf) {
		if err := ctx.Err(); err != nil {
			s.stream.Abort()
			return err
		}
		n := copy(s.buf, samples[off:])
		for i := n; i < len(s.buf); i++ {
			s.buf[i] = 0
		}
		if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			s.stream.Abort()
			return fmt.Errorf("write audio output: %w", err)
		}
	}
	// Stop returns once queued buffers have played.
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("drain audio output: %w", err)
	}
	return nil
}

func (s *soundCardOutput) openLocked() error {
	dev, err := lookupDevice(s.device, false)
	if err != nil {
		return err
	}
	frames := max(s.rate/50, 1)
	p := portaudio.HighLatencyParameters(nil, dev)
	p.Output.Channels = 1
	p.SampleRate = float64(s.rate)
	p.FramesPerBuffer = frames
	s.buf = make([]int16, frames)
	stream, err := portaudio.OpenStream(p, s.buf)
	if err != nil {
		return fmt.Errorf("open %s: %w", dev.Name, err)
	}
	s.stream = stream
	return nil
}

// Close releases the playback device.
func (s *soundCardOutput) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}
