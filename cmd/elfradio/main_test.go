package main

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/elfradio/elfradio/internal/auth"
	"github.com/elfradio/elfradio/internal/config"
	"github.com/elfradio/elfradio/internal/events"
	"github.com/elfradio/elfradio/internal/hardware"
	"github.com/elfradio/elfradio/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFlags(t *testing.T, addr, token, dir string) {
	t.Helper()
	oldAddr, oldToken, oldDir := apiAddr, apiToken, configDir
	apiAddr, apiToken, configDir = addr, token, dir
	t.Cleanup(func() { apiAddr, apiToken, configDir = oldAddr, oldToken, oldDir })
}

func TestResolveAPIDefaults(t *testing.T) {
	withFlags(t, "", "", t.TempDir())
	addr, token := resolveAPI()
	assert.Equal(t, defaultAPIAddr, addr)
	assert.Empty(t, token)
}

func TestResolveAPIUsesSavedCredentials(t *testing.T) {
	dir := t.TempDir()
	m, err := auth.NewManager(dir)
	require.NoError(t, err)
	require.NoError(t, m.Login("http://radio.local:5900", "saved"))

	withFlags(t, "", "", dir)
	addr, token := resolveAPI()
	assert.Equal(t, "http://radio.local:5900", addr)
	assert.Equal(t, "saved", token)

	withFlags(t, "http://other:1", "flag", dir)
	addr, token = resolveAPI()
	assert.Equal(t, "http://other:1", addr)
	assert.Equal(t, "flag", token)
}

func TestSetupLogger(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	setupLogger(logger, "debug")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	setupLogger(logger, "loud")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	setupLogger(logger, "")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestOpenDevices(t *testing.T) {
	cfg := config.Default()
	cfg.Hardware.AudioBackend = config.AudioBackendFile
	task := &models.Task{Dir: t.TempDir(), Mode: models.ModeGeneralCommunication}

	devs, err := openDevices(task, cfg)
	require.NoError(t, err)
	_, simulated := devs.PTT.(*hardware.SimulatedPTT)
	assert.True(t, simulated)
	assert.Equal(t, cfg.Hardware.OutputSampleRate, devs.Sink.SampleRate())
	_, archived := devs.Sink.(*hardware.PacedSink)
	assert.True(t, archived)
	assert.Nil(t, devs.Source)

	cfg.Hardware.SerialPort = filepath.Join(t.TempDir(), "ttyUSB0")
	devs, err = openDevices(task, cfg)
	require.NoError(t, err)
	_, serial := devs.PTT.(*hardware.SerialPTT)
	assert.True(t, serial)

	task.IsSimulation = true
	devs, err = openDevices(task, cfg)
	require.NoError(t, err)
	_, simulated = devs.PTT.(*hardware.SimulatedPTT)
	assert.True(t, simulated)
	assert.NotNil(t, devs.Source)

	task.IsSimulation = false
	cfg.Hardware.PTTSignal = "cts"
	_, err = openDevices(task, cfg)
	assert.Error(t, err)
}

func TestOpenDevicesSoundCard(t *testing.T) {
	if hardware.SoundCardSupported {
		t.Skip("built with a sound card backend")
	}
	cfg := config.Default()
	task := &models.Task{Dir: t.TempDir(), Mode: models.ModeGeneralCommunication}

	_, err := openDevices(task, cfg)
	assert.ErrorIs(t, err, hardware.ErrSoundCardUnavailable)

	task.IsSimulation = true
	devs, err := openDevices(task, cfg)
	require.NoError(t, err)
	_, archived := devs.Sink.(*hardware.PacedSink)
	assert.True(t, archived)
}

func TestRegisterPollers(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	for _, backend := range []string{config.AudioBackendPortAudio, config.AudioBackendFile} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.General.TasksBaseDirectory = t.TempDir()
			cfg.Hardware.AudioBackend = backend
			cfg.Hardware.SDRDevice = "no-such-sdr"

			hw := hardware.NewManager(logger, events.Discard{})
			registerPollers(hw, cfg, logger)
			hw.Poll(context.Background())

			for _, kind := range models.AllLeaseKinds {
				assert.NotEqual(t, models.ConnUnknown, hw.Status(kind), kind)
			}
			assert.Equal(t, models.ConnConnected, hw.Status(models.LeasePTT))
			assert.Equal(t, models.ConnError, hw.Status(models.LeaseSDR))
			if backend == config.AudioBackendFile {
				assert.Equal(t, models.ConnConnected, hw.Status(models.LeaseAudioOut))
				assert.Equal(t, models.ConnError, hw.Status(models.LeaseAudioIn))
			}
		})
	}
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"timing.tx_interval_s=600", "general.nickname=Elf One", "hardware.enable_rx_tx_separation=true"})
	require.NoError(t, err)
	assert.Equal(t, 600, got["timing.tx_interval_s"])
	assert.Equal(t, "Elf One", got["general.nickname"])
	assert.Equal(t, true, got["hardware.enable_rx_tx_separation"])

	_, err = parseAssignments([]string{"timing.tx_interval_s"})
	assert.Error(t, err)
}
