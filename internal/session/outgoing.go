package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/elfradio/elfradio/internal/ai"
	"github.com/elfradio/elfradio/internal/hardware"
	"github.com/elfradio/elfradio/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// outgoingWorker executes queued transmissions one at a time. It returns
// only on cancellation or a fatal hardware error.
func (s *Session) outgoingWorker(ctx context.Context) error {
	for {
		item, err := s.queue.pop(ctx)
		if err != nil {
			return err
		}
		if err := s.runOutgoing(ctx, item); err != nil {
			if models.IsFatal(err) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// runOutgoing is one outgoing pipeline run: optional synthesis, the
// transmit guard, then the keyed transmission. Stage failures are
// reported and swallowed; fatal errors are returned.
func (s *Session) runOutgoing(ctx context.Context, item models.TxItem) error {
	runID := uuid.New().String()
	text := s.address(item.Text)
	if text != "" {
		s.persistLog(models.DirectionOutgoing, models.ContentText, text)
	}

	if !s.task.Mode.RequiresVoice() {
		st := s.beginStage(runID, models.StageTransmit, models.DirectionOutgoing)
		err := s.waitGuard(ctx)
		if err == nil {
			s.logf(logrus.InfoLevel, "Text frame sent: %s", text)
			s.markTransmitted()
		}
		s.finishStage(st, err, "log")
		return nil
	}

	var audio ai.Audio
	switch {
	case len(item.Audio) > 0:
		pcm, rate, err := hardware.DecodeWAV(item.Audio)
		if err != nil {
			s.logf(logrus.WarnLevel, "Discarding unreadable voice item %s: %v", item.ID, err)
			return nil
		}
		if rate == 0 {
			rate = s.cfg.Hardware.OutputSampleRate
		}
		audio = ai.Audio{PCM: pcm, SampleRate: rate}
	default:
		st := s.beginStage(runID, models.StageTextToSpeech, models.DirectionOutgoing)
		var err error
		audio, err = s.deps.Gateway.TextToSpeech(ctx, text, s.cfg.AuxServiceSettings.TTSVoice)
		if err == nil && len(audio.PCM) == 0 {
			err = errors.New("synthesis returned no audio")
		}
		s.finishStage(st, err)
		if err != nil {
			return err
		}
	}

	if err := s.waitGuard(ctx); err != nil {
		return err
	}
	if err := s.transmit(ctx, runID, audio); err != nil {
		return err
	}

	if s.task.IsSimulation && text != "" {
		s.postIncoming(incomingEvent{text: text})
	}
	return nil
}

// address prefixes the station identification when it is due.
func (s *Session) address(text string) string {
	if text == "" {
		return text
	}
	now := s.deps.Clock.Now()
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if !s.policy.AddressingDue(s.lastAddressed, now) {
		return text
	}
	s.lastAddressed = now
	re := s.cfg.RadioEtiquette
	prefix := re.Nickname
	if re.Callsign != "" {
		prefix = fmt.Sprintf("%s (%s)", re.Nickname, re.Callsign)
	}
	if prefix == "" {
		return text
	}
	return prefix + ": " + text
}

// waitGuard holds the run until the transmit interval has passed.
func (s *Session) waitGuard(ctx context.Context) error {
	for {
		s.txMu.Lock()
		last := s.lastTxEnded
		s.txMu.Unlock()

		err := s.policy.GuardBeforeTransmit(last, s.deps.Clock.Now())
		var tooSoon *models.TooSoonError
		if !errors.As(err, &tooSoon) {
			return err
		}
		s.logger.WithField("retry_after_ms", tooSoon.RetryAfterMs).Debug("Waiting for transmit interval")
		if err := sleep(ctx, s.deps.Clock, msDuration(tooSoon.RetryAfterMs)); err != nil {
			return err
		}
	}
}

func (s *Session) markTransmitted() {
	s.txMu.Lock()
	s.lastTxEnded = s.deps.Clock.Now()
	s.txMu.Unlock()
}

// transmit keys the radio and plays audio, bounded by the max transmit
// deadline. PTT is deasserted and leases released on every path.
func (s *Session) transmit(ctx context.Context, runID string, audio ai.Audio) (err error) {
	st := s.beginStage(runID, models.StageTransmit, models.DirectionOutgoing)
	defer func() { s.finishStage(st, err) }()

	ptt, err := s.acquire(ctx, models.LeasePTT)
	if err != nil {
		return err
	}
	defer ptt.Release()
	out, err := s.acquire(ctx, models.LeaseAudioOut)
	if err != nil {
		return err
	}
	defer out.Release()

	if s.deps.PTT == nil || s.deps.Sink == nil {
		return &models.FatalError{Reason: "transmit path not configured"}
	}

	s.transmitting.Store(true)
	defer s.transmitting.Store(false)

	if err := s.deps.PTT.Assert(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &models.DeviceError{Kind: models.LeasePTT, Err: err}
	}
	s.logf(logrus.InfoLevel, "PTT asserted")
	defer func() {
		if derr := s.deps.PTT.Deassert(); derr != nil && err == nil {
			err = &models.DeviceError{Kind: models.LeasePTT, Err: derr}
		}
		s.markTransmitted()
		s.logf(logrus.InfoLevel, "PTT released")
	}()

	start := s.deps.Clock.Now()
	deadline := s.policy.MaxTransmitDeadline(start)
	txCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var timedOut atomic.Bool
	go func() {
		select {
		case <-s.deps.Clock.After(deadline.Sub(start)):
			timedOut.Store(true)
			cancel()
		case <-txCtx.Done():
		}
	}()

	cutoff := func(cause error) error {
		if timedOut.Load() {
			return &models.StageFailedError{Stage: models.StageTransmit, Reason: models.ReasonTimeout, Err: cause}
		}
		return cause
	}

	if err := sleep(txCtx, s.deps.Clock, s.policy.KeyUpDelay()); err != nil {
		return cutoff(err)
	}

	pcm := s.withTones(audio.PCM, audio.SampleRate)
	played := make(chan error, 1)
	go func() { played <- s.deps.Sink.Play(txCtx, pcm, audio.SampleRate) }()

	select {
	case perr := <-played:
		if perr != nil {
			if txCtx.Err() != nil {
				return cutoff(txCtx.Err())
			}
			return &models.DeviceError{Kind: models.LeaseAudioOut, Err: perr}
		}
	case <-txCtx.Done():
		// The sink may never return; the line is dropped regardless.
		return cutoff(txCtx.Err())
	}
	s.logger.WithField("duration", hardware.PCMDuration(len(pcm), audio.SampleRate)).Debug("Audio played")

	if err := sleep(txCtx, s.deps.Clock, s.policy.KeyDownDelay()); err != nil {
		return cutoff(err)
	}
	return nil
}

// withTones brackets pcm with the configured start and end tone sequences.
func (s *Session) withTones(pcm []byte, rate int) []byte {
	tone := s.cfg.SignalTone
	if !tone.Enabled || tone.DurationMs <= 0 {
		return pcm
	}
	start := hardware.GenerateTones(tone.StartFreqs, tone.DurationMs, rate)
	end := hardware.GenerateTones(tone.EndFreqs, tone.DurationMs, rate)
	out := make([]byte, 0, len(start)+len(pcm)+len(end))
	out = append(out, start...)
	out = append(out, pcm...)
	return append(out, end...)
}
