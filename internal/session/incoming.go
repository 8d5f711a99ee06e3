package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/elfradio/elfradio/internal/ai"
	"github.com/elfradio/elfradio/internal/hardware"
	"github.com/elfradio/elfradio/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// listen segments receive audio into speech bursts with the VAD and posts
// each burst to the incoming worker. Recording pauses while this task is
// transmitting.
func (s *Session) listen(ctx context.Context) error {
	src := s.deps.Source
	rate := src.SampleRate()
	vad, err := hardware.NewVAD(rate, s.cfg.Hardware.VADFrameMs, s.cfg.Hardware.VADThreshold)
	if err != nil {
		return &models.FatalError{Reason: "voice detector", Err: err}
	}
	maxBurst := int(s.policy.Window().MaxTxDuration.Seconds()) * rate

	frame := make([]int16, vad.FrameSize())
	var burst []int16
	lastVoice := s.deps.Clock.Now()

	flush := func() {
		if len(burst) > 0 {
			s.postIncoming(incomingEvent{samples: burst, rate: rate})
			burst = nil
		}
	}

	for {
		n, err := src.ReadFrame(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				flush()
				s.logf(logrus.InfoLevel, "Receive audio source closed")
				return nil
			}
			return &models.DeviceError{Kind: models.LeaseAudioIn, Err: err}
		}
		if s.transmitting.Load() {
			burst = nil
			continue
		}

		voice, err := vad.IsVoice(frame[:n])
		if err != nil {
			return &models.FatalError{Reason: "voice detector", Err: err}
		}
		now := s.deps.Clock.Now()
		if voice {
			burst = append(burst, frame[:n]...)
			lastVoice = now
			if maxBurst > 0 && len(burst) >= maxBurst {
				flush()
			}
			continue
		}
		if len(burst) == 0 {
			continue
		}
		burst = append(burst, frame[:n]...)
		if s.policy.HoldExpired(lastVoice, now) {
			flush()
		}
	}
}

// postIncoming hands an event to the incoming worker, dropping it with a
// warning when the worker is saturated.
func (s *Session) postIncoming(ev incomingEvent) {
	select {
	case s.incoming <- ev:
	default:
		s.logf(logrus.WarnLevel, "Incoming queue full, signal dropped")
	}
}

// incomingWorker runs incoming pipelines one at a time.
func (s *Session) incomingWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.incoming:
			if err := s.runIncoming(ctx, ev); err != nil && models.IsFatal(err) {
				return err
			}
		}
	}
}

// runIncoming is one incoming pipeline run: Record, SpeechToText, then
// optional Translate and LlmRespond. A failed stage aborts the rest of the
// run only.
func (s *Session) runIncoming(ctx context.Context, ev incomingEvent) error {
	runID := uuid.New().String()
	text := ev.text
	simulated := ev.samples == nil

	if !simulated {
		pcm := hardware.SamplesToBytes(ev.samples)

		st := s.beginStage(runID, models.StageRecord, models.DirectionIncoming)
		ref, err := s.saveRecording(pcm, ev.rate)
		s.finishStage(st, err, ref)
		if err != nil {
			return err
		}

		st = s.beginStage(runID, models.StageSpeechToText, models.DirectionIncoming)
		text, err = s.deps.Gateway.SpeechToText(ctx, ai.Audio{PCM: pcm, SampleRate: ev.rate}, s.cfg.AuxServiceSettings.SourceLanguage)
		s.finishStage(st, err, ref)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil
		}
		s.persistLog(models.DirectionIncoming, models.ContentText, text)
		s.logf(logrus.InfoLevel, "Received: %s", text)

		if phrase := s.cfg.Security.EndTaskPhrase; phrase != "" &&
			strings.Contains(strings.ToUpper(text), strings.ToUpper(phrase)) {
			s.logf(logrus.WarnLevel, "End-task phrase received, stopping task")
			s.Stop()
			return nil
		}

		if s.wantTranslate() {
			st = s.beginStage(runID, models.StageTranslate, models.DirectionIncoming)
			translated, err := s.deps.Gateway.Translate(ctx, text, s.cfg.AuxServiceSettings.TargetLanguage)
			s.finishStage(st, err)
			if err != nil {
				return err
			}
			s.persistLog(models.DirectionIncoming, models.ContentText, "["+s.cfg.AuxServiceSettings.TargetLanguage+"] "+translated)
		}
	}

	if !s.wantReply() {
		return nil
	}
	st := s.beginStage(runID, models.StageLlmRespond, models.DirectionIncoming)
	reply, err := s.deps.Gateway.LlmChat(ctx, s.history, text)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty reply")
	}
	s.finishStage(st, err)
	if err != nil {
		return err
	}
	s.appendHistory(ai.Message{Role: ai.RoleUser, Content: text}, ai.Message{Role: ai.RoleAssistant, Content: reply})

	if simulated {
		// The model plays the remote station in practice sessions.
		s.persistLog(models.DirectionIncoming, models.ContentText, reply)
		s.logf(logrus.InfoLevel, "Practice partner: %s", reply)
		return nil
	}
	if !s.task.Mode.CanTransmit() {
		return nil
	}
	s.enqueue(models.TxItem{Kind: models.TxAiReply, Text: reply, Priority: models.PriorityNormal})
	return nil
}

func (s *Session) wantTranslate() bool {
	aux := s.cfg.AuxServiceSettings
	return aux.TargetLanguage != "" && aux.TargetLanguage != aux.SourceLanguage &&
		s.deps.Gateway.Supports(ai.CapTranslate)
}

func (s *Session) wantReply() bool {
	if s.task.IsSimulation {
		return true
	}
	return s.cfg.AISettings.AutoReply && s.deps.Gateway.Supports(ai.CapChat)
}

// saveRecording writes a burst to the task directory and returns its
// path relative to it.
func (s *Session) saveRecording(pcm []byte, rate int) (string, error) {
	name := fmt.Sprintf("rx_%04d.wav", s.rxCount.Add(1))
	if s.task.Dir == "" {
		return name, nil
	}
	if err := os.WriteFile(filepath.Join(s.task.Dir, name), hardware.EncodeWAV(pcm, rate), 0644); err != nil {
		return "", fmt.Errorf("save recording: %w", err)
	}
	return name, nil
}
