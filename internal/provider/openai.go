package provider

import (
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty = SDK default
}

// NewOpenAIClient builds the one SDK client shared by transcription, reply
// generation and synthesis. SDK retries are off: a failed call fails the run.
func NewOpenAIClient(cfg OpenAIConfig, hc *http.Client) (openai.Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return openai.Client{}, ErrNoAPIKey
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if hc != nil {
		opts = append(opts, option.WithHTTPClient(hc))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return openai.NewClient(opts...), nil
}
