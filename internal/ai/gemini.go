package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiOptions configures the Gemini chat provider.
type GeminiOptions struct {
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// GeminiProvider implements ChatProvider and TranslateProvider with the
// Gemini API. The client is created on first use.
type GeminiProvider struct {
	opts GeminiOptions

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(opts GeminiOptions) (*GeminiProvider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini: api key not configured")
	}
	if opts.Model == "" {
		opts.Model = defaultGeminiModel
	}
	return &GeminiProvider{opts: opts}, nil
}

func (p *GeminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	p.client = c
	return c, nil
}

func (p *GeminiProvider) generate(ctx context.Context, system string, contents []*genai.Content) (string, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return "", err
	}
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if p.opts.Temperature > 0 {
		t := float32(p.opts.Temperature)
		cfg.Temperature = &t
	}
	if p.opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.opts.MaxTokens)
	}

	resp, err := client.Models.GenerateContent(ctx, p.opts.Model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini generate: empty response")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

// Chat implements ChatProvider.
func (p *GeminiProvider) Chat(ctx context.Context, history []Message, prompt string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		if m.Role == RoleSystem {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}
	contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: prompt}}})
	return p.generate(ctx, p.opts.SystemPrompt, contents)
}

// Translate implements TranslateProvider.
func (p *GeminiProvider) Translate(ctx context.Context, text, targetLang string) (string, error) {
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: text}}}}
	return p.generate(ctx, translatePrompt(targetLang), contents)
}
