package hardware

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSoundCardUnavailable is returned by sound card constructors in
// builds without PortAudio. Build with -tags portaudio to enable them.
var ErrSoundCardUnavailable = errors.New("sound card support not built in (rebuild with -tags portaudio)")

// AudioDevice is one capture or playback device reported by the host.
type AudioDevice struct {
	Index         int     `json:"index"`
	Name          string  `json:"name"`
	HostAPI       string  `json:"host_api,omitempty"`
	Inputs        int     `json:"inputs"`
	Outputs       int     `json:"outputs"`
	SampleRate    float64 `json:"default_sample_rate"`
	DefaultInput  bool    `json:"default_input"`
	DefaultOutput bool    `json:"default_output"`
}

// pickDevice resolves a configured device name. An empty name or
// "default" selects the host default; otherwise an exact name wins over
// a case-insensitive substring match.
func pickDevice(devices []AudioDevice, name string, input bool) (AudioDevice, error) {
	usable := func(d AudioDevice) bool {
		if input {
			return d.Inputs > 0
		}
		return d.Outputs > 0
	}
	dir := "output"
	if input {
		dir = "input"
	}

	if name == "" || strings.EqualFold(name, "default") {
		for _, d := range devices {
			if usable(d) && ((input && d.DefaultInput) || (!input && d.DefaultOutput)) {
				return d, nil
			}
		}
		return AudioDevice{}, fmt.Errorf("no default audio %s device", dir)
	}
	for _, d := range devices {
		if usable(d) && d.Name == name {
			return d, nil
		}
	}
	want := strings.ToLower(name)
	for _, d := range devices {
		if usable(d) && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return AudioDevice{}, fmt.Errorf("audio %s device %q not found", dir, name)
}
