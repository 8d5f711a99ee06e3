//go:build !portaudio

package hardware

import "time"

// SoundCardSupported reports whether this build drives real audio devices.
const SoundCardSupported = false

// ListAudioDevices enumerates host audio devices.
func ListAudioDevices() ([]AudioDevice, error) {
	return nil, ErrSoundCardUnavailable
}

// NewSoundCardInput opens the named capture device.
func NewSoundCardInput(device string, sampleRate int, frame time.Duration) (AudioSource, error) {
	return nil, ErrSoundCardUnavailable
}

// NewSoundCardOutput opens the named playback device.
func NewSoundCardOutput(device string, sampleRate int) (AudioSink, error) {
	return nil, ErrSoundCardUnavailable
}
