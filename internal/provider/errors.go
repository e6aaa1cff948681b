// Package provider holds the error vocabulary shared by the AI provider
// clients (transcription, reply generation, speech synthesis).
package provider

import (
	"errors"
	"fmt"

	openai "github.com/openai/openai-go/v3"
)

const OpenAI = "openai"

var (
	// ErrEmptyResponse is returned when a provider answered 2xx without usable content.
	ErrEmptyResponse = errors.New("provider: empty response")

	// ErrNoAPIKey is returned by constructors when the credential is missing.
	ErrNoAPIKey = errors.New("provider: API key required")
)

// APIError represents a non-2xx response from a provider API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: API error %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) IsRateLimited() bool { return e.StatusCode == 429 }

func (e *APIError) IsUnauthorized() bool { return e.StatusCode == 401 }

func (e *APIError) IsServerError() bool { return e.StatusCode >= 500 && e.StatusCode < 600 }

// Error wraps a transport or decoding failure with the provider and the
// operation that failed.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches provider context to err. SDK API errors are converted to *APIError.
func Wrap(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Error{Provider: provider, Op: op, Err: &APIError{
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Code:       apiErr.Code,
			Provider:   provider,
		}}
	}
	return &Error{Provider: provider, Op: op, Err: err}
}
