package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/elfradio/elfradio/internal/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func fakeDetector(ports []*enumerator.PortDetails, portErr error, tools map[string]string) *Detector {
	return &Detector{
		listPorts: func() ([]*enumerator.PortDetails, error) { return ports, portErr },
		lookPath: func(cmd string) (string, error) {
			if p, ok := tools[cmd]; ok {
				return p, nil
			}
			return "", errors.New("not found")
		},
		version: func(cmd, flag string) string { return "v1" },
	}
}

func TestScanClassifiesSerialPorts(t *testing.T) {
	d := fakeDetector([]*enumerator.PortDetails{
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "1a86", PID: "7523"},
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043", Product: "Arduino Uno"},
	}, nil, nil)

	devs := d.Scan()
	require.Len(t, devs, 3)

	assert.Equal(t, "/dev/ttyACM0", devs[0].Path)
	assert.Equal(t, "Arduino Uno", devs[0].Name)
	assert.False(t, devs[0].LikelyPTT)

	assert.Equal(t, "/dev/ttyS0", devs[1].Name)
	assert.Empty(t, devs[1].USB)

	assert.Equal(t, "WCH CH340", devs[2].Name)
	assert.Equal(t, "1A86:7523", devs[2].USB)
	assert.True(t, devs[2].LikelyPTT)

	assert.Equal(t, "/dev/ttyUSB1", d.SuggestPTTPort())
}

func TestScanFindsSDRTools(t *testing.T) {
	d := fakeDetector(nil, errors.New("enumeration unsupported"), map[string]string{
		"rtl_fm":       "/usr/bin/rtl_fm",
		"SoapySDRUtil": "/usr/bin/SoapySDRUtil",
	})

	devs := d.Scan()
	require.Len(t, devs, 2)
	assert.Equal(t, "sdr:rtl_fm", devs[0].ID)
	assert.Empty(t, devs[0].Version)
	assert.Equal(t, "sdr:SoapySDRUtil", devs[1].ID)
	assert.Equal(t, "v1", devs[1].Version)
	assert.NoError(t, d.AudioError())

	assert.Empty(t, d.SuggestPTTPort())
	assert.Equal(t, devs, d.GetDevices())
}

func TestSDRDeviceCheck(t *testing.T) {
	onPath := func(tools ...string) func(string) (string, error) {
		return func(cmd string) (string, error) {
			for _, tool := range tools {
				if tool == cmd {
					return "/usr/bin/" + cmd, nil
				}
			}
			return "", errors.New("not found")
		}
	}
	reply := func(out string, err error) func(context.Context, string, ...string) ([]byte, error) {
		return func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte(out), err
		}
	}

	_, err := newSDRProbe("", onPath(), reply("", nil))
	assert.Error(t, err)

	listing := "Found 1 device(s):\n  0:  Realtek, RTL2838UHIDIR, SN: 00000001\n\nUsing device 0: Generic RTL2832U OEM\nusb_claim_interface error -6\n"
	p, err := newSDRProbe("", onPath("rtl_test", "SoapySDRUtil"), reply(listing, errors.New("exit status 1")))
	require.NoError(t, err)
	assert.Equal(t, "rtl_test", p.Command)
	assert.NoError(t, p.Ping(context.Background()), "a busy dongle is still present")

	p, err = newSDRProbe("00000002", onPath("rtl_test"), reply(listing, nil))
	require.NoError(t, err)
	assert.Error(t, p.Ping(context.Background()))

	p, err = newSDRProbe("", onPath("rtl_test"), reply("No supported devices found.\n", errors.New("exit status 1")))
	require.NoError(t, err)
	assert.Error(t, p.Ping(context.Background()))

	p, err = newSDRProbe("hackrf", onPath("SoapySDRUtil"), reply("Found device 0\n  driver = hackrf\n", nil))
	require.NoError(t, err)
	assert.Equal(t, "SoapySDRUtil", p.Command)
	assert.NoError(t, p.Ping(context.Background()))
}

func TestScanListsSoundCards(t *testing.T) {
	d := fakeDetector(nil, nil, nil)
	d.listAudio = func() ([]hardware.AudioDevice, error) {
		return []hardware.AudioDevice{
			{Index: 0, Name: "USB Audio CODEC", HostAPI: "ALSA", Inputs: 1, Outputs: 2, DefaultInput: true},
			{Index: 1, Name: "null"},
		}, nil
	}
	devs := d.Scan()
	require.Len(t, devs, 1)
	assert.Equal(t, "audio:0", devs[0].ID)
	assert.Equal(t, "audio", devs[0].Kind)
	assert.Equal(t, 1, devs[0].Inputs)
	assert.True(t, devs[0].Default)

	d.listAudio = func() ([]hardware.AudioDevice, error) { return nil, hardware.ErrSoundCardUnavailable }
	assert.Empty(t, d.Scan())
	assert.ErrorIs(t, d.AudioError(), hardware.ErrSoundCardUnavailable)
}
