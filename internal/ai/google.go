package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/elfradio/elfradio/internal/hardware"
)

// Google Cloud REST endpoints. Overridable for tests.
const (
	googleTranslateURL = "https://translation.googleapis.com/language/translate/v2"
	googleTTSURL       = "https://texttospeech.googleapis.com/v1/text:synthesize"
	googleSTTURL       = "https://speech.googleapis.com/v1/speech:recognize"
)

// GoogleProvider implements translation, synthesis and recognition with
// Google Cloud API-key authenticated REST calls.
type GoogleProvider struct {
	APIKey       string
	TranslateURL string
	TTSURL       string
	STTURL       string
	SampleRate   int
	HTTPClient   *http.Client
}

// NewGoogleProvider creates a provider with production endpoints.
func NewGoogleProvider(apiKey string, sampleRate int) (*GoogleProvider, error) {
	if apiKey == "" {
		return nil, errors.New("google: api key not configured")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &GoogleProvider{
		APIKey:       apiKey,
		TranslateURL: googleTranslateURL,
		TTSURL:       googleTTSURL,
		STTURL:       googleSTTURL,
		SampleRate:   sampleRate,
		HTTPClient:   http.DefaultClient,
	}, nil
}

func (p *GoogleProvider) post(ctx context.Context, endpoint string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	u := endpoint + "?key=" + url.QueryEscape(p.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode google response: %w", err)
	}
	return nil
}

// Translate implements TranslateProvider.
func (p *GoogleProvider) Translate(ctx context.Context, text, targetLang string) (string, error) {
	var out struct {
		Data struct {
			Translations []struct {
				TranslatedText string `json:"translatedText"`
			} `json:"translations"`
		} `json:"data"`
	}
	body := map[string]string{"q": text, "target": targetLang, "format": "text"}
	if err := p.post(ctx, p.TranslateURL, body, &out); err != nil {
		return "", fmt.Errorf("google translate: %w", err)
	}
	if len(out.Data.Translations) == 0 {
		return "", errors.New("google translate: no translations returned")
	}
	return out.Data.Translations[0].TranslatedText, nil
}

// TextToSpeech implements TtsProvider. voice is a Google voice name such
// as "en-US-Standard-C"; its prefix supplies the language code.
func (p *GoogleProvider) TextToSpeech(ctx context.Context, text, voice string) (Audio, error) {
	lang := "en-US"
	if parts := strings.SplitN(voice, "-", 3); len(parts) >= 2 {
		lang = parts[0] + "-" + parts[1]
	}
	voiceSel := map[string]string{"languageCode": lang}
	if voice != "" {
		voiceSel["name"] = voice
	}
	body := map[string]interface{}{
		"input": map[string]string{"text": text},
		"voice": voiceSel,
		"audioConfig": map[string]interface{}{
			"audioEncoding":   "LINEAR16",
			"sampleRateHertz": p.SampleRate,
		},
	}
	var out struct {
		AudioContent string `json:"audioContent"`
	}
	if err := p.post(ctx, p.TTSURL, body, &out); err != nil {
		return Audio{}, fmt.Errorf("google tts: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return Audio{}, fmt.Errorf("google tts: decode audio: %w", err)
	}
	pcm, rate, err := hardware.DecodeWAV(raw)
	if err != nil {
		return Audio{}, err
	}
	if rate == 0 {
		rate = p.SampleRate
	}
	return Audio{PCM: pcm, SampleRate: rate}, nil
}

// SpeechToText implements SttProvider.
func (p *GoogleProvider) SpeechToText(ctx context.Context, audio Audio, lang string) (string, error) {
	if lang == "" {
		lang = "en-US"
	}
	body := map[string]interface{}{
		"config": map[string]interface{}{
			"encoding":        "LINEAR16",
			"sampleRateHertz": audio.SampleRate,
			"languageCode":    lang,
		},
		"audio": map[string]string{"content": base64.StdEncoding.EncodeToString(audio.PCM)},
	}
	var out struct {
		Results []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"results"`
	}
	if err := p.post(ctx, p.STTURL, body, &out); err != nil {
		return "", fmt.Errorf("google stt: %w", err)
	}
	var parts []string
	for _, r := range out.Results {
		if len(r.Alternatives) > 0 {
			parts = append(parts, strings.TrimSpace(r.Alternatives[0].Transcript))
		}
	}
	return strings.Join(parts, " "), nil
}
