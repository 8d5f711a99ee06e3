package hardware

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.bug.st/serial"
)

// PTTDriver keys and unkeys a transmitter.
type PTTDriver interface {
	Assert(ctx context.Context) error
	Deassert() error
	Ping(ctx context.Context) error
	Close() error
}

// SerialPTT drives PTT through the RTS or DTR line of a serial port.
type SerialPTT struct {
	portName string
	useDTR   bool

	mu   sync.Mutex
	port serial.Port

	openPort func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerialPTT creates a driver for portName; signal is "rts" or "dtr".
func NewSerialPTT(portName, signal string) (*SerialPTT, error) {
	if portName == "" {
		return nil, errors.New("serial port not configured")
	}
	switch signal {
	case "rts", "dtr":
	default:
		return nil, fmt.Errorf("unsupported ptt signal %q", signal)
	}
	return &SerialPTT{portName: portName, useDTR: signal == "dtr", openPort: serial.Open}, nil
}

// portMode opens with both modem lines low. The driver default raises
// RTS and DTR, which keys radios wired to either line.
func portMode() *serial.Mode {
	return &serial.Mode{
		BaudRate:          9600,
		InitialStatusBits: &serial.ModemOutputBits{RTS: false, DTR: false},
	}
}

func (p *SerialPTT) open() (serial.Port, error) {
	if p.port != nil {
		return p.port, nil
	}
	port, err := p.openPort(p.portName, portMode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p.portName, err)
	}
	p.port = port
	return port, nil
}

func (p *SerialPTT) setLine(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	port, err := p.open()
	if err != nil {
		return err
	}
	if p.useDTR {
		err = port.SetDTR(on)
	} else {
		err = port.SetRTS(on)
	}
	if err != nil {
		// Force a reopen on the next call.
		port.Close()
		p.port = nil
		return fmt.Errorf("set ptt line on %s: %w", p.portName, err)
	}
	return nil
}

// Assert keys the transmitter.
func (p *SerialPTT) Assert(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.setLine(true)
}

// Deassert unkeys the transmitter.
func (p *SerialPTT) Deassert() error {
	return p.setLine(false)
}

// Ping checks the port is still enumerated by the OS.
func (p *SerialPTT) Ping(ctx context.Context) error {
	ports, err := serial.GetPortsList()
	if err != nil {
		return fmt.Errorf("list serial ports: %w", err)
	}
	for _, name := range ports {
		if name == p.portName {
			return nil
		}
	}
	return fmt.Errorf("serial port %s not present", p.portName)
}

// Close releases the port, leaving the line deasserted.
func (p *SerialPTT) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil
	}
	if p.useDTR {
		p.port.SetDTR(false)
	} else {
		p.port.SetRTS(false)
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// SimulatedPTT records key state in memory. Errors can be injected for
// tests and practice sessions.
type SimulatedPTT struct {
	mu        sync.Mutex
	keyed     bool
	asserts   int
	deasserts int

	AssertErr error
	PingErr   error
}

// NewSimulatedPTT creates an in-memory PTT line.
func NewSimulatedPTT() *SimulatedPTT {
	return &SimulatedPTT{}
}

func (s *SimulatedPTT) Assert(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AssertErr != nil {
		return s.AssertErr
	}
	s.keyed = true
	s.asserts++
	return nil
}

func (s *SimulatedPTT) Deassert() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyed = false
	s.deasserts++
	return nil
}

func (s *SimulatedPTT) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

func (s *SimulatedPTT) Close() error {
	return s.Deassert()
}

// Keyed reports whether the line is currently asserted.
func (s *SimulatedPTT) Keyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyed
}

// Counts returns the number of assert and deassert calls.
func (s *SimulatedPTT) Counts() (asserts, deasserts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asserts, s.deasserts
}
