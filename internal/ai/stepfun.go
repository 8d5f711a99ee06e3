package ai

import "net/http"

const (
	stepFunBaseURL  = "https://api.stepfun.com/v1"
	stepFunTTSModel = "step-tts-mini"
	stepFunVoice    = "wenrounvsheng"
	stepFunMaxChars = 1000
)

// NewStepFunProvider returns an OpenAI-compatible provider pointed at the
// StepFun API. Synthesis input is capped at 1000 characters.
func NewStepFunProvider(apiKey string, httpClient *http.Client) (*OpenAIProvider, error) {
	return NewOpenAIProvider(OpenAIOptions{
		APIKey:      apiKey,
		BaseURL:     stepFunBaseURL,
		ChatModel:   "step-1-8k",
		STTModel:    "step-asr",
		TTSModel:    stepFunTTSModel,
		Voice:       stepFunVoice,
		HTTPClient:  httpClient,
		MaxTTSChars: stepFunMaxChars,
	})
}
