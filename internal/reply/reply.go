// Package reply obtains the textual answer to a transcribed voice message.
package reply

import (
	"context"
	"strings"

	log "log/slog"

	openai "github.com/openai/openai-go/v3"

	"voxrelay/internal/provider"
)

const DefaultModel = "gpt-3.5-turbo"

type Config struct {
	Model        string
	SystemPrompt string // optional fixed instruction, no history
	MaxTokens    int64  // 0 = provider default
	Temperature  float64
	Logger       *log.Logger
}

// Generator sends one user turn per call to the chat completions endpoint.
type Generator struct {
	client openai.Client
	cfg    Config
	log    *log.Logger
}

func New(client openai.Client, cfg Config) *Generator {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Generator{client: client, cfg: cfg, log: logger.With("component", "reply")}
}

func (g *Generator) GenerateReply(ctx context.Context, prompt string) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if g.cfg.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(g.cfg.SystemPrompt))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    g.cfg.Model,
	}
	if g.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(g.cfg.MaxTokens)
	}
	if g.cfg.Temperature > 0 {
		params.Temperature = openai.Float(g.cfg.Temperature)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", provider.Wrap(provider.OpenAI, "chat completion", err)
	}

	if len(resp.Choices) == 0 {
		return "", provider.Wrap(provider.OpenAI, "chat completion", provider.ErrEmptyResponse)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", provider.Wrap(provider.OpenAI, "chat completion", provider.ErrEmptyResponse)
	}

	g.log.Debug("Generated reply", "model", resp.Model, "finish", resp.Choices[0].FinishReason, "tokens", resp.Usage.TotalTokens)

	return content, nil
}
