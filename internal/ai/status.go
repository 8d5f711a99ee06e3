package ai

import (
	"errors"

	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// statusOf extracts an HTTP status code from SDK and REST errors.
func statusOf(err error) (int, bool) {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus(), true
	}
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode, true
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code, true
	}
	return 0, false
}
