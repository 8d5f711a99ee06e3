package ai

import (
	"context"
	"time"

	"github.com/elfradio/elfradio/internal/events"
	"github.com/elfradio/elfradio/internal/models"
	"github.com/sirupsen/logrus"
)

// Capability names used in ProviderError.Kind.
const (
	CapSTT       = "stt"
	CapTTS       = "tts"
	CapTranslate = "translate"
	CapChat      = "llm"
)

var capEvents = map[string]models.EventType{
	CapSTT:       models.EventSttStatus,
	CapTTS:       models.EventTtsStatus,
	CapTranslate: models.EventTranslate,
	CapChat:      models.EventLlmStatus,
}

// Providers groups the provider chosen for each capability.
type Providers struct {
	STT       SttProvider
	TTS       TtsProvider
	Translate TranslateProvider
	Chat      ChatProvider
}

// Options tunes gateway call policy.
type Options struct {
	Timeout time.Duration
	Backoff time.Duration
}

// Gateway is the uniform entry point to AI providers.
type Gateway struct {
	p      Providers
	opts   Options
	pub    events.Publisher
	logger *logrus.Logger
}

// NewGateway creates a gateway over p.
func NewGateway(p Providers, opts Options, pub events.Publisher, logger *logrus.Logger) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if pub == nil {
		pub = events.Discard{}
	}
	return &Gateway{p: p, opts: opts, pub: pub, logger: logger}
}

// SpeechToText transcribes audio.
func (g *Gateway) SpeechToText(ctx context.Context, audio Audio, lang string) (string, error) {
	if g.p.STT == nil {
		return "", g.unsupported(CapSTT)
	}
	var text string
	err := g.call(ctx, CapSTT, func(ctx context.Context) error {
		var err error
		text, err = g.p.STT.SpeechToText(ctx, audio, lang)
		return err
	})
	return text, err
}

// Translate translates text into targetLang.
func (g *Gateway) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if g.p.Translate == nil {
		return "", g.unsupported(CapTranslate)
	}
	var out string
	err := g.call(ctx, CapTranslate, func(ctx context.Context) error {
		var err error
		out, err = g.p.Translate.Translate(ctx, text, targetLang)
		return err
	})
	return out, err
}

// TextToSpeech synthesizes text.
func (g *Gateway) TextToSpeech(ctx context.Context, text, voice string) (Audio, error) {
	if g.p.TTS == nil {
		return Audio{}, g.unsupported(CapTTS)
	}
	var audio Audio
	err := g.call(ctx, CapTTS, func(ctx context.Context) error {
		var err error
		audio, err = g.p.TTS.TextToSpeech(ctx, text, voice)
		return err
	})
	return audio, err
}

// LlmChat produces a reply to prompt given prior history.
func (g *Gateway) LlmChat(ctx context.Context, history []Message, prompt string) (string, error) {
	if g.p.Chat == nil {
		return "", g.unsupported(CapChat)
	}
	var reply string
	err := g.call(ctx, CapChat, func(ctx context.Context) error {
		var err error
		reply, err = g.p.Chat.Chat(ctx, history, prompt)
		return err
	})
	return reply, err
}

// Supports reports whether a provider is configured for capability.
func (g *Gateway) Supports(capability string) bool {
	switch capability {
	case CapSTT:
		return g.p.STT != nil
	case CapTTS:
		return g.p.TTS != nil
	case CapTranslate:
		return g.p.Translate != nil
	case CapChat:
		return g.p.Chat != nil
	}
	return false
}

func (g *Gateway) unsupported(kind string) error {
	g.pub.Publish(models.NewHealthEvent(capEvents[kind], models.HealthError, "no provider configured"))
	return &models.ProviderError{Kind: kind, Message: models.ErrUnsupportedProvider.Error()}
}

// call runs fn with a per-attempt timeout and retries once on transient
// failure. Cancellation of ctx aborts immediately without retry.
func (g *Gateway) call(ctx context.Context, kind string, fn func(context.Context) error) error {
	evType := capEvents[kind]
	g.pub.Publish(models.NewHealthEvent(evType, models.HealthChecking, ""))

	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		err = fn(attemptCtx)
		cancel()
		if err == nil {
			g.pub.Publish(models.NewHealthEvent(evType, models.HealthOk, ""))
			return nil
		}
		if ctx.Err() != nil {
			g.pub.Publish(models.NewHealthEvent(evType, models.HealthError, "cancelled"))
			return ctx.Err()
		}
		g.logger.WithFields(logrus.Fields{"capability": kind, "attempt": attempt}).WithError(err).Warn("AI provider call failed")
		if attempt == 2 || !IsTransient(err) {
			break
		}
		select {
		case <-ctx.Done():
			g.pub.Publish(models.NewHealthEvent(evType, models.HealthError, "cancelled"))
			return ctx.Err()
		case <-time.After(g.opts.Backoff):
		}
	}

	g.pub.Publish(models.NewHealthEvent(evType, models.HealthError, err.Error()))
	return &models.ProviderError{Kind: kind, Message: err.Error()}
}
