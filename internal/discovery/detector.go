// Package discovery finds radio interfaces, sound cards and SDR tooling
// attached to the host.
package discovery

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/elfradio/elfradio/internal/hardware"
	"go.bug.st/serial/enumerator"
)

// Device is a piece of hardware or tooling ElfRadio can drive.
type Device struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`   // serial, audio, sdr-tool
	Status       string `json:"status"` // present, unknown
	Path         string `json:"path,omitempty"`
	Version      string `json:"version,omitempty"`
	USB          string `json:"usb,omitempty"` // VID:PID
	Inputs       int    `json:"inputs,omitempty"`
	Outputs      int    `json:"outputs,omitempty"`
	Default      bool   `json:"default,omitempty"`
	LikelyPTT    bool   `json:"likely_ptt"`
	AutoDetected bool   `json:"auto_detected"`
}

// usbBridges names the USB serial chips found in radio interface cables.
var usbBridges = map[string]string{
	"10C4:EA60": "Silicon Labs CP210x",
	"0403:6001": "FTDI FT232R",
	"0403:6015": "FTDI FT231X",
	"1A86:7523": "WCH CH340",
	"067B:2303": "Prolific PL2303",
	"0D8C:013C": "C-Media CM108 (AIOC)",
}

// sdrTools are the command line programs used to reach an RTL-SDR dongle.
var sdrTools = []struct {
	command string
	name    string
	flag    string
}{
	{"rtl_fm", "RTL-SDR FM demodulator", ""},
	{"rtl_sdr", "RTL-SDR I/Q recorder", ""},
	{"rtl_test", "RTL-SDR test tool", ""},
	{"SoapySDRUtil", "SoapySDR utility", "--info"},
}

// Detector scans for attached hardware.
type Detector struct {
	listPorts func() ([]*enumerator.PortDetails, error)
	listAudio func() ([]hardware.AudioDevice, error)
	lookPath  func(string) (string, error)
	version   func(cmd, flag string) string

	devices  []Device
	audioErr error
}

// NewDetector creates a detector backed by the OS serial enumerator.
func NewDetector() *Detector {
	return &Detector{
		listPorts: enumerator.GetDetailedPortsList,
		listAudio: hardware.ListAudioDevices,
		lookPath:  exec.LookPath,
		version:   getCommandVersion,
	}
}

// Scan detects serial ports, sound cards and SDR tools. Enumeration
// errors leave that section empty; see AudioError for sound cards.
func (d *Detector) Scan() []Device {
	d.devices = []Device{}
	d.devices = append(d.devices, d.detectSerial()...)
	d.devices = append(d.devices, d.detectAudio()...)
	d.devices = append(d.devices, d.detectSDRTools()...)
	return d.devices
}

// AudioError reports why the last Scan found no sound cards, if it failed.
func (d *Detector) AudioError() error {
	return d.audioErr
}

// GetDevices returns the result of the last Scan.
func (d *Detector) GetDevices() []Device {
	return d.devices
}

// SuggestPTTPort returns the first port that looks like a radio interface.
func (d *Detector) SuggestPTTPort() string {
	for _, dev := range d.devices {
		if dev.Kind == "serial" && dev.LikelyPTT {
			return dev.Path
		}
	}
	return ""
}

func (d *Detector) detectSerial() []Device {
	ports, err := d.listPorts()
	if err != nil {
		return nil
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })

	var out []Device
	for _, p := range ports {
		dev := Device{
			ID:           "serial:" + p.Name,
			Name:         p.Name,
			Kind:         "serial",
			Status:       "present",
			Path:         p.Name,
			AutoDetected: true,
		}
		if p.IsUSB {
			dev.USB = strings.ToUpper(p.VID + ":" + p.PID)
			if chip, ok := usbBridges[dev.USB]; ok {
				dev.Name = chip
				dev.LikelyPTT = true
			} else if p.Product != "" {
				dev.Name = p.Product
			}
		}
		out = append(out, dev)
	}
	return out
}

func (d *Detector) detectAudio() []Device {
	d.audioErr = nil
	if d.listAudio == nil {
		return nil
	}
	cards, err := d.listAudio()
	if err != nil {
		d.audioErr = err
		return nil
	}
	var out []Device
	for _, c := range cards {
		if c.Inputs == 0 && c.Outputs == 0 {
			continue
		}
		out = append(out, Device{
			ID:           fmt.Sprintf("audio:%d", c.Index),
			Name:         c.Name,
			Kind:         "audio",
			Status:       "present",
			Version:      c.HostAPI,
			Inputs:       c.Inputs,
			Outputs:      c.Outputs,
			Default:      c.DefaultInput || c.DefaultOutput,
			AutoDetected: true,
		})
	}
	return out
}

func (d *Detector) detectSDRTools() []Device {
	var out []Device
	for _, tool := range sdrTools {
		path, err := d.lookPath(tool.command)
		if err != nil {
			continue
		}
		dev := Device{
			ID:           "sdr:" + tool.command,
			Name:         tool.name,
			Kind:         "sdr-tool",
			Status:       "present",
			Path:         path,
			AutoDetected: true,
		}
		if tool.flag != "" {
			dev.Version = d.version(path, tool.flag)
		}
		out = append(out, dev)
	}
	return out
}

func getCommandVersion(cmd string, flag string) string {
	out, err := exec.Command(cmd, flag).Output()
	if err != nil {
		return ""
	}
	version := strings.TrimSpace(string(out))
	// Take first line only
	if idx := strings.Index(version, "\n"); idx > 0 {
		version = version[:idx]
	}
	// Limit length
	if len(version) > 30 {
		version = version[:30]
	}
	return version
}
