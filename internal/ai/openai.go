package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elfradio/elfradio/internal/hardware"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIOptions configures an OpenAI-compatible endpoint.
type OpenAIOptions struct {
	APIKey       string
	BaseURL      string
	ChatModel    string
	STTModel     string
	TTSModel     string
	Voice        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	HTTPClient   *http.Client
	// MaxTTSChars truncates synthesis input when positive.
	MaxTTSChars int
}

// OpenAIProvider implements every capability against an OpenAI-compatible
// API. Translation is performed through chat.
type OpenAIProvider struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAIProvider creates a provider for opts.
func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai: api key not configured")
	}
	if opts.ChatModel == "" {
		opts.ChatModel = "gpt-4o-mini"
	}
	if opts.STTModel == "" {
		opts.STTModel = string(openai.AudioModelWhisper1)
	}
	if opts.TTSModel == "" {
		opts.TTSModel = string(openai.SpeechModelTTS1)
	}
	if opts.Voice == "" {
		opts.Voice = "alloy"
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	// Retries are owned by the gateway.
	reqOpts = append(reqOpts, option.WithMaxRetries(0))
	client := openai.NewClient(reqOpts...)
	return &OpenAIProvider{client: &client, opts: opts}, nil
}

func (p *OpenAIProvider) messages(history []Message, prompt string) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if p.opts.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(p.opts.SystemPrompt))
	}
	for _, m := range history {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	return append(msgs, openai.UserMessage(prompt))
}

// Chat implements ChatProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, history []Message, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    p.opts.ChatModel,
		Messages: p.messages(history, prompt),
	}
	if p.opts.Temperature > 0 {
		params.Temperature = openai.Float(p.opts.Temperature)
	}
	if p.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.opts.MaxTokens))
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Translate implements TranslateProvider by prompting the chat model.
func (p *OpenAIProvider) Translate(ctx context.Context, text, targetLang string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: p.opts.ChatModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(translatePrompt(targetLang)),
			openai.UserMessage(text),
		},
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai translate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai translate: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// SpeechToText implements SttProvider.
func (p *OpenAIProvider) SpeechToText(ctx context.Context, audio Audio, lang string) (string, error) {
	wav := hardware.EncodeWAV(audio.PCM, audio.SampleRate)
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "speech.wav", "audio/wav"),
		Model: openai.AudioModel(p.opts.STTModel),
	}
	if lang != "" {
		params.Language = openai.String(lang)
	}
	tr, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(tr.Text), nil
}

// TextToSpeech implements TtsProvider.
func (p *OpenAIProvider) TextToSpeech(ctx context.Context, text, voice string) (Audio, error) {
	if voice == "" {
		voice = p.opts.Voice
	}
	if p.opts.MaxTTSChars > 0 {
		text = truncateRunes(text, p.opts.MaxTTSChars)
	}
	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(p.opts.TTSModel),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return Audio{}, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("read speech body: %w", err)
	}
	pcm, rate, err := hardware.DecodeWAV(data)
	if err != nil {
		return Audio{}, err
	}
	if rate == 0 {
		// Raw PCM from OpenAI-compatible servers is 24 kHz.
		rate = 24000
	}
	return Audio{PCM: pcm, SampleRate: rate}, nil
}

func translatePrompt(targetLang string) string {
	return fmt.Sprintf("Translate the user's message into %s. Reply with the translation only.", targetLang)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
