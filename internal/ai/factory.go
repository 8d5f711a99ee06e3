package ai

import (
	"fmt"
	"time"

	"github.com/elfradio/elfradio/internal/config"
	"github.com/elfradio/elfradio/internal/events"
	"github.com/elfradio/elfradio/internal/models"
	"github.com/sirupsen/logrus"
)

// NewProvidersFromConfig selects a provider for each capability. A
// capability whose provider cannot be built is left nil and logged; calls
// to it fail with a ProviderError.
func NewProvidersFromConfig(cfg *config.Config, logger *logrus.Logger) Providers {
	b := &builder{cfg: cfg, logger: logger}
	var p Providers

	if c, err := b.chat(); err != nil {
		b.warn("llm", cfg.AISettings.Provider, err)
	} else {
		p.Chat = c
	}

	aux := cfg.AuxServiceSettings
	if s, err := b.stt(aux.STTProvider); err != nil {
		b.warn("stt", aux.STTProvider, err)
	} else {
		p.STT = s
	}
	if s, err := b.tts(aux.TTSProvider); err != nil {
		b.warn("tts", aux.TTSProvider, err)
	} else {
		p.TTS = s
	}
	if s, err := b.translate(aux.TranslateProvider); err != nil {
		b.warn("translate", aux.TranslateProvider, err)
	} else {
		p.Translate = s
	}
	return p
}

// NewGatewayFromConfig builds providers and wraps them in a gateway.
func NewGatewayFromConfig(cfg *config.Config, pub events.Publisher, logger *logrus.Logger) *Gateway {
	return NewGateway(NewProvidersFromConfig(cfg, logger), Options{
		Timeout: cfg.RequestTimeout(),
		Backoff: time.Duration(cfg.AISettings.RetryBackoffMs) * time.Millisecond,
	}, pub, logger)
}

type builder struct {
	cfg    *config.Config
	logger *logrus.Logger

	openai  *OpenAIProvider
	stepfun *OpenAIProvider
	google  *GoogleProvider
}

func (b *builder) warn(capability, provider string, err error) {
	b.logger.WithFields(logrus.Fields{"capability": capability, "provider": provider}).WithError(err).Warn("AI capability unavailable")
}

func (b *builder) openAI() (*OpenAIProvider, error) {
	if b.openai != nil {
		return b.openai, nil
	}
	ai, aux := b.cfg.AISettings, b.cfg.AuxServiceSettings
	key, base := aux.OpenAIAPIKey, aux.OpenAIBaseURL
	if ai.Provider == "openai" {
		if ai.APIKey != "" {
			key = ai.APIKey
		}
		if ai.BaseURL != "" {
			base = ai.BaseURL
		}
	}
	p, err := NewOpenAIProvider(OpenAIOptions{
		APIKey:       key,
		BaseURL:      base,
		ChatModel:    ai.Model,
		Voice:        aux.TTSVoice,
		Temperature:  ai.Temperature,
		MaxTokens:    ai.MaxTokens,
		SystemPrompt: ai.SystemPrompt,
	})
	if err != nil {
		return nil, err
	}
	b.openai = p
	return p, nil
}

func (b *builder) stepFun() (*OpenAIProvider, error) {
	if b.stepfun != nil {
		return b.stepfun, nil
	}
	key := b.cfg.AuxServiceSettings.StepFunAPIKey
	if key == "" && b.cfg.AISettings.Provider == "stepfun" {
		key = b.cfg.AISettings.APIKey
	}
	p, err := NewStepFunProvider(key, nil)
	if err != nil {
		return nil, err
	}
	b.stepfun = p
	return p, nil
}

func (b *builder) googleREST() (*GoogleProvider, error) {
	if b.google != nil {
		return b.google, nil
	}
	p, err := NewGoogleProvider(b.cfg.AuxServiceSettings.GoogleAPIKey, b.cfg.Hardware.OutputSampleRate)
	if err != nil {
		return nil, err
	}
	b.google = p
	return p, nil
}

func (b *builder) chat() (ChatProvider, error) {
	ai := b.cfg.AISettings
	switch ai.Provider {
	case "openai":
		return b.openAI()
	case "stepfun":
		return b.stepFun()
	case "google":
		model := ai.Model
		if model == "" || model == config.Default().AISettings.Model {
			model = defaultGeminiModel
		}
		return NewGeminiProvider(GeminiOptions{
			APIKey:       ai.APIKey,
			Model:        model,
			Temperature:  ai.Temperature,
			MaxTokens:    ai.MaxTokens,
			SystemPrompt: ai.SystemPrompt,
		})
	}
	return nil, fmt.Errorf("chat provider %q: %w", ai.Provider, models.ErrUnsupportedProvider)
}

func (b *builder) stt(name string) (SttProvider, error) {
	switch name {
	case "openai":
		return b.openAI()
	case "stepfun":
		return b.stepFun()
	case "google":
		return b.googleREST()
	}
	return nil, fmt.Errorf("stt provider %q: %w", name, models.ErrUnsupportedProvider)
}

func (b *builder) tts(name string) (TtsProvider, error) {
	switch name {
	case "openai":
		return b.openAI()
	case "stepfun":
		return b.stepFun()
	case "google":
		return b.googleREST()
	}
	return nil, fmt.Errorf("tts provider %q: %w", name, models.ErrUnsupportedProvider)
}

func (b *builder) translate(name string) (TranslateProvider, error) {
	switch name {
	case "openai":
		return b.openAI()
	case "google":
		return b.googleREST()
	case "aliyun":
		aux := b.cfg.AuxServiceSettings
		return NewAliyunProvider(aux.AliyunAccessKeyID, aux.AliyunAccessSecret)
	}
	return nil, fmt.Errorf("translate provider %q: %w", name, models.ErrUnsupportedProvider)
}
