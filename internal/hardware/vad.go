package hardware

import (
	"fmt"
	"math"
)

var (
	vadRates  = map[int]bool{8000: true, 16000: true, 32000: true, 48000: true}
	vadFrames = map[int]bool{10: true, 20: true, 30: true}
)

// VAD is an energy-based voice activity detector over fixed-size frames.
type VAD struct {
	sampleRate int
	frameMs    int
	threshold  float64
}

// NewVAD validates the frame geometry. threshold is the RMS amplitude,
// in 16-bit sample units, above which a frame counts as voice.
func NewVAD(sampleRate, frameMs, threshold int) (*VAD, error) {
	if !vadRates[sampleRate] {
		return nil, fmt.Errorf("vad: unsupported sample rate %d", sampleRate)
	}
	if !vadFrames[frameMs] {
		return nil, fmt.Errorf("vad: unsupported frame duration %dms", frameMs)
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("vad: threshold must be positive")
	}
	return &VAD{sampleRate: sampleRate, frameMs: frameMs, threshold: float64(threshold)}, nil
}

// FrameSize returns the number of samples per frame.
func (v *VAD) FrameSize() int {
	return v.sampleRate * v.frameMs / 1000
}

// IsVoice classifies one frame.
func (v *VAD) IsVoice(frame []int16) (bool, error) {
	if len(frame) != v.FrameSize() {
		return false, fmt.Errorf("vad: frame has %d samples, want %d", len(frame), v.FrameSize())
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	return rms >= v.threshold, nil
}
