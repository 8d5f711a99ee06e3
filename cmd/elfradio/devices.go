package main

import (
	"context"
	"time"

	"github.com/elfradio/elfradio/internal/config"
	"github.com/elfradio/elfradio/internal/discovery"
	"github.com/elfradio/elfradio/internal/hardware"
	"github.com/elfradio/elfradio/internal/models"
	"github.com/elfradio/elfradio/internal/registry"
	"github.com/sirupsen/logrus"
)

// openDevices builds the device handles of one task. Practice tasks never
// touch the serial port or the sound card.
func openDevices(task *models.Task, cfg *config.Config) (registry.Devices, error) {
	devs := registry.Devices{
		PTT:    hardware.NewSimulatedPTT(),
		Sink:   hardware.NewPacedSink(task.Dir, cfg.Hardware.OutputSampleRate),
		Source: hardware.NewChannelSource(cfg.Hardware.InputSampleRate, frameDuration(cfg)),
	}
	if task.IsSimulation {
		return devs, nil
	}

	switch cfg.Hardware.AudioBackend {
	case config.AudioBackendFile:
		devs.Source = nil
	default:
		in, err := hardware.NewSoundCardInput(cfg.Hardware.InputDevice, cfg.Hardware.InputSampleRate, frameDuration(cfg))
		if err != nil {
			return registry.Devices{}, err
		}
		out, err := hardware.NewSoundCardOutput(cfg.Hardware.OutputDevice, cfg.Hardware.OutputSampleRate)
		if err != nil {
			return registry.Devices{}, err
		}
		devs.Source, devs.Sink = in, out
	}

	if cfg.Hardware.SerialPort == "" {
		return devs, nil
	}
	ptt, err := hardware.NewSerialPTT(cfg.Hardware.SerialPort, cfg.Hardware.PTTSignal)
	if err != nil {
		return registry.Devices{}, err
	}
	devs.PTT = ptt
	return devs, nil
}

// unavailableDevice keeps a device kind in the status table when it cannot
// be opened on this host.
type unavailableDevice struct {
	err error
}

func (u unavailableDevice) Ping(ctx context.Context) error { return u.err }

// registerPollers attaches the health checks for the configured devices.
func registerPollers(hw *hardware.Manager, cfg *config.Config, logger *logrus.Logger) {
	if cfg.Hardware.SerialPort != "" {
		ptt, err := hardware.NewSerialPTT(cfg.Hardware.SerialPort, cfg.Hardware.PTTSignal)
		if err != nil {
			logger.WithError(err).Warn("PTT health check disabled")
			hw.RegisterDevice(models.LeasePTT, unavailableDevice{err})
		} else {
			hw.RegisterDevice(models.LeasePTT, ptt)
		}
	} else {
		hw.RegisterDevice(models.LeasePTT, hardware.NewSimulatedPTT())
	}

	if cfg.Hardware.AudioBackend == config.AudioBackendFile {
		hw.RegisterDevice(models.LeaseAudioIn, unavailableDevice{hardware.ErrSoundCardUnavailable})
		hw.RegisterDevice(models.LeaseAudioOut, hardware.NewPacedSink(cfg.General.TasksBaseDirectory, cfg.Hardware.OutputSampleRate))
	} else {
		if in, err := hardware.NewSoundCardInput(cfg.Hardware.InputDevice, cfg.Hardware.InputSampleRate, frameDuration(cfg)); err != nil {
			logger.WithError(err).Warn("Audio input unavailable")
			hw.RegisterDevice(models.LeaseAudioIn, unavailableDevice{err})
		} else {
			hw.RegisterDevice(models.LeaseAudioIn, in)
		}
		if out, err := hardware.NewSoundCardOutput(cfg.Hardware.OutputDevice, cfg.Hardware.OutputSampleRate); err != nil {
			logger.WithError(err).Warn("Audio output unavailable")
			hw.RegisterDevice(models.LeaseAudioOut, unavailableDevice{err})
		} else {
			hw.RegisterDevice(models.LeaseAudioOut, out)
		}
	}

	sdr, err := discovery.NewSDRProbe(cfg.Hardware.SDRDevice)
	if err != nil {
		logger.WithError(err).Debug("No SDR tooling found")
		hw.RegisterDevice(models.LeaseSDR, unavailableDevice{err})
		return
	}
	hw.RegisterDevice(models.LeaseSDR, sdr)
}

func frameDuration(cfg *config.Config) time.Duration {
	if cfg.Hardware.VADFrameMs <= 0 {
		return 30 * time.Millisecond
	}
	return time.Duration(cfg.Hardware.VADFrameMs) * time.Millisecond
}
