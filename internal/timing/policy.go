// Package timing encodes radio etiquette timing rules as pure guard
// functions over an immutable window.
package timing

import (
	"time"

	"github.com/elfradio/elfradio/internal/config"
	"github.com/elfradio/elfradio/internal/models"
)

// Window holds the timing limits a task runs under. It is captured once
// at task start and never changes afterwards.
type Window struct {
	PTTPreDelay        time.Duration
	PTTPostDelay       time.Duration
	TxHold             time.Duration
	TxInterval         time.Duration
	MaxTxDuration      time.Duration
	AddressingInterval time.Duration
}

// FromConfig derives a window from a configuration snapshot.
func FromConfig(cfg *config.Config) Window {
	t := cfg.Timing
	return Window{
		PTTPreDelay:        time.Duration(t.PTTPreDelayMs) * time.Millisecond,
		PTTPostDelay:       time.Duration(t.PTTPostDelayMs) * time.Millisecond,
		TxHold:             time.Duration(t.TxHoldTimerS) * time.Second,
		TxInterval:         time.Duration(t.TxIntervalS) * time.Second,
		MaxTxDuration:      time.Duration(t.MaxTxDurationS) * time.Second,
		AddressingInterval: time.Duration(cfg.RadioEtiquette.AddressingIntervalMin) * time.Minute,
	}
}

// Policy evaluates guards against a window.
type Policy struct {
	w Window
}

// NewPolicy creates a policy for the given window.
func NewPolicy(w Window) Policy {
	return Policy{w: w}
}

// Window returns the limits this policy enforces.
func (p Policy) Window() Window {
	return p.w
}

// GuardBeforeTransmit rejects a transmit that would start less than the
// transmit interval after the previous one ended. A zero lastTxEndedAt
// means no previous transmission.
func (p Policy) GuardBeforeTransmit(lastTxEndedAt, now time.Time) error {
	if lastTxEndedAt.IsZero() || p.w.TxInterval <= 0 {
		return nil
	}
	elapsed := now.Sub(lastTxEndedAt)
	if elapsed >= p.w.TxInterval {
		return nil
	}
	remaining := p.w.TxInterval - elapsed
	ms := remaining.Milliseconds()
	if remaining%time.Millisecond != 0 {
		ms++
	}
	return &models.TooSoonError{RetryAfterMs: ms}
}

// KeyUpDelay is awaited after PTT is asserted and before audio starts.
func (p Policy) KeyUpDelay() time.Duration {
	return p.w.PTTPreDelay
}

// KeyDownDelay is awaited after audio ends and before PTT is released.
func (p Policy) KeyDownDelay() time.Duration {
	return p.w.PTTPostDelay
}

// MaxTransmitDeadline is the instant a transmit started at startedAt must
// be cut off.
func (p Policy) MaxTransmitDeadline(startedAt time.Time) time.Time {
	return startedAt.Add(p.w.MaxTxDuration)
}

// AddressingDue reports whether the station must identify itself on the
// next transmission. A zero lastAddressedAt is always due.
func (p Policy) AddressingDue(lastAddressedAt, now time.Time) bool {
	if lastAddressedAt.IsZero() {
		return true
	}
	return now.Sub(lastAddressedAt) >= p.w.AddressingInterval
}

// HoldExpired reports whether receive silence has lasted longer than the
// transmit hold timer, closing the current burst.
func (p Policy) HoldExpired(lastVoiceAt, now time.Time) bool {
	return now.Sub(lastVoiceAt) >= p.w.TxHold
}
