package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"voxrelay/internal/provider"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newGenerator(t *testing.T, cfg Config, h http.HandlerFunc) *Generator {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := provider.NewOpenAIClient(provider.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	return New(client, cfg)
}

func chatResponse(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   DefaultModel,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

func TestGenerateReplySingleTurn(t *testing.T) {
	var got chatRequest
	g := newGenerator(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse("Hi! How can I help?")))
	})

	out, err := g.GenerateReply(context.Background(), "hello")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "Hi! How can I help?" {
		t.Fatalf("unexpected reply %q", out)
	}
	if got.Model != DefaultModel {
		t.Fatalf("model %q", got.Model)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "hello" {
		t.Fatalf("expected a single user message, got %+v", got.Messages)
	}
}

func TestGenerateReplyWithSystemPrompt(t *testing.T) {
	var got chatRequest
	g := newGenerator(t, Config{Model: "gpt-4o-mini", SystemPrompt: "Be brief."}, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse("ok")))
	})

	if _, err := g.GenerateReply(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if got.Model != "gpt-4o-mini" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestGenerateReplyEmpty(t *testing.T) {
	cases := map[string]string{
		"no choices":    `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`,
		"blank content": chatResponse("   "),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			g := newGenerator(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(body))
			})
			_, err := g.GenerateReply(context.Background(), "hello")
			if !errors.Is(err, provider.ErrEmptyResponse) {
				t.Fatalf("expected ErrEmptyResponse, got %v", err)
			}
		})
	}
}

func TestGenerateReplyLogsWithComponent(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	g := newGenerator(t, Config{Logger: logger}, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse("ok")))
	})
	if _, err := g.GenerateReply(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(logs.String(), "component=reply") {
		t.Fatalf("expected component-scoped log line, got %q", logs.String())
	}
	if strings.Contains(logs.String(), "hello") {
		t.Fatalf("prompt text leaked into logs: %q", logs.String())
	}
}
