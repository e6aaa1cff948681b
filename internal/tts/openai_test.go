package tts

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
	"voxrelay/pkg/audioconv"
)

func newSynth(t *testing.T, cfg Config, h http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := provider.NewOpenAIClient(provider.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	return NewOpenAI(client, cfg)
}

func TestOpenAISynthesize(t *testing.T) {
	var req struct {
		Model          string `json:"model"`
		Input          string `json:"input"`
		Voice          string `json:"voice"`
		ResponseFormat string `json:"response_format"`
	}
	s := newSynth(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3fake-mp3"))
	})

	out, err := s.Synthesize(context.Background(), "Hi there", "Nova")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(out.Data) != "ID3fake-mp3" || out.Format != audioconv.FormatMP3 {
		t.Fatalf("unexpected audio %q %q", out.Data, out.Format)
	}
	if req.Model != DefaultModel || req.Input != "Hi there" || req.Voice != "nova" || req.ResponseFormat != "mp3" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestOpenAISynthesizeOpusFormat(t *testing.T) {
	var format string
	s := newSynth(t, Config{Format: audioconv.FormatOgg}, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		format, _ = req["response_format"].(string)
		w.Write([]byte("OggS"))
	})
	out, err := s.Synthesize(context.Background(), "x", "")
	if err != nil {
		t.Fatal(err)
	}
	if format != "opus" || out.Format != audioconv.FormatOgg {
		t.Fatalf("format sent %q, returned %q", format, out.Format)
	}
}

func TestOpenAISynthesizeEmptyBody(t *testing.T) {
	s := newSynth(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	_, err := s.Synthesize(context.Background(), "Hi", "alloy")
	if !errors.Is(err, provider.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestOpenAISynthesizeAPIError(t *testing.T) {
	s := newSynth(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit","code":"rate_limit_exceeded"}}`))
	})
	_, err := s.Synthesize(context.Background(), "Hi", "alloy")
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) || !apiErr.IsRateLimited() {
		t.Fatalf("expected rate limited APIError, got %v", err)
	}
}

func TestOpenAISynthesizeTruncatesLongInput(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	var input string
	s := newSynth(t, Config{Logger: logger}, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		input = req.Input
		w.Write([]byte("ID3"))
	})

	long := strings.Repeat("й", maxSpeechInput+10)
	if _, err := s.Synthesize(context.Background(), long, "alloy"); err != nil {
		t.Fatal(err)
	}
	if n := len([]rune(input)); n != maxSpeechInput {
		t.Fatalf("expected %d characters sent, got %d", maxSpeechInput, n)
	}
	if !strings.Contains(logs.String(), "component=tts") {
		t.Fatalf("truncation warning not scoped to component: %q", logs.String())
	}
}

func TestValidateVoice(t *testing.T) {
	for _, v := range []string{"alloy", "Shimmer", "nova"} {
		if err := ValidateVoice(v); err != nil {
			t.Fatalf("ValidateVoice(%q): %v", v, err)
		}
	}
	if err := ValidateVoice("robot"); err == nil {
		t.Fatal("expected error for unknown voice")
	}
}
