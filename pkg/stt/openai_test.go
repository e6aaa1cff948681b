package stt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voxrelay/internal/provider"
	"voxrelay/pkg/audioconv"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := provider.NewOpenAIClient(provider.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	return NewOpenAI(client, "", Options{Language: "en"})
}

func TestOpenAITranscribe(t *testing.T) {
	tr := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization header %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != DefaultModel {
			t.Errorf("model %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			body, _ := io.ReadAll(f)
			if string(body) != "RIFFdata" || hdr.Filename != "voice.wav" {
				t.Errorf("unexpected upload %q %q", hdr.Filename, body)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  hello  "}`))
	})

	res, err := tr.Transcribe(context.Background(), []byte("RIFFdata"), audioconv.FormatWAV)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "hello" {
		t.Fatalf("expected trimmed text, got %q", res.Text)
	}
}

func TestOpenAITranscribeAPIError(t *testing.T) {
	tr := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	})

	_, err := tr.Transcribe(context.Background(), []byte("RIFF"), audioconv.FormatWAV)
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *provider.APIError, got %v", err)
	}
	if !apiErr.IsUnauthorized() || apiErr.Code != "invalid_api_key" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestOpenAITranscribeHonoursDeadline(t *testing.T) {
	block := make(chan struct{})
	tr := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(block) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.Transcribe(ctx, []byte("RIFF"), audioconv.FormatWAV)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
