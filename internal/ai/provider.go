// Package ai exposes speech, translation and chat capabilities behind a
// gateway that adds timeouts, a single retry and status reporting.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Audio is 16-bit mono PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Role of a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of chat history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SttProvider transcribes speech.
type SttProvider interface {
	SpeechToText(ctx context.Context, audio Audio, lang string) (string, error)
}

// TtsProvider synthesizes speech.
type TtsProvider interface {
	TextToSpeech(ctx context.Context, text, voice string) (Audio, error)
}

// TranslateProvider translates text.
type TranslateProvider interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// ChatProvider generates a chat reply.
type ChatProvider interface {
	Chat(ctx context.Context, history []Message, prompt string) (string, error)
}

// HTTPStatusError is returned by REST providers for non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// statusCoder is implemented by errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// HTTPStatus implements statusCoder.
func (e *HTTPStatusError) HTTPStatus() int { return e.StatusCode }

// IsTransient reports whether a failed call is worth one more attempt:
// timeouts and server-side (5xx) failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if code, ok := statusOf(err); ok {
		return code >= 500
	}
	return false
}
