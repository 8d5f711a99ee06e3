package discovery

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const sdrProbeTimeout = 10 * time.Second

// sdrProbes are the tools that can list attached SDR dongles, in order of
// preference. present matches a listing with at least one device.
var sdrProbes = []struct {
	command string
	args    []string
	present *regexp.Regexp
}{
	{"rtl_test", []string{"-t"}, regexp.MustCompile(`Found [1-9][0-9]* device`)},
	{"SoapySDRUtil", []string{"--find"}, regexp.MustCompile(`Found device`)},
}

// SDRProbe checks that an SDR dongle is attached by running a listing
// tool. It implements hardware.Pinger.
type SDRProbe struct {
	Command string
	path    string
	args    []string
	present *regexp.Regexp
	device  string

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewSDRProbe picks the first listing tool on PATH. When device is set it
// must appear in the tool's output.
func NewSDRProbe(device string) (*SDRProbe, error) {
	return newSDRProbe(device, exec.LookPath, runCombined)
}

func newSDRProbe(device string, lookPath func(string) (string, error), run func(context.Context, string, ...string) ([]byte, error)) (*SDRProbe, error) {
	for _, p := range sdrProbes {
		path, err := lookPath(p.command)
		if err != nil {
			continue
		}
		return &SDRProbe{
			Command: p.command,
			path:    path,
			args:    p.args,
			present: p.present,
			device:  device,
			run:     run,
		}, nil
	}
	return nil, errors.New("no SDR tool on PATH (install rtl-sdr or SoapySDR)")
}

// Ping lists devices. Tools that exit non-zero after listing a device,
// such as rtl_test on a busy dongle, still count as present.
func (p *SDRProbe) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sdrProbeTimeout)
	defer cancel()

	out, err := p.run(ctx, p.path, p.args...)
	text := string(out)
	if !p.present.MatchString(text) {
		if err != nil {
			return fmt.Errorf("%s: %w", p.Command, err)
		}
		return errors.New("no SDR device found")
	}
	if p.device != "" && !strings.Contains(strings.ToLower(text), strings.ToLower(p.device)) {
		return fmt.Errorf("SDR device %q not listed by %s", p.device, p.Command)
	}
	return nil
}

func runCombined(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
