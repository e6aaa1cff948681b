package tts

import (
	"context"
	"fmt"
	"io"
	"strings"

	log "log/slog"

	openai "github.com/openai/openai-go/v3"

	"voxrelay/internal/provider"
	"voxrelay/pkg/audioconv"
)

const (
	DefaultModel = "tts-1"
	DefaultVoice = "alloy"
)

// maxSpeechInput is the provider's limit on input characters.
const maxSpeechInput = 4096

type Config struct {
	Model  string
	Format audioconv.Format // mp3, wav or ogg (opus); default mp3
	Speed  float64          // 0 = provider default
	Logger *log.Logger
}

// OpenAI synthesises through POST audio/speech with a fixed model.
type OpenAI struct {
	client openai.Client
	cfg    Config
	log    *log.Logger
}

func NewOpenAI(client openai.Client, cfg Config) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Format == "" {
		cfg.Format = audioconv.FormatMP3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &OpenAI{client: client, cfg: cfg, log: logger.With("component", "tts")}
}

func responseFormat(f audioconv.Format) (openai.AudioSpeechNewParamsResponseFormat, error) {
	switch f {
	case audioconv.FormatMP3:
		return openai.AudioSpeechNewParamsResponseFormatMP3, nil
	case audioconv.FormatWAV:
		return openai.AudioSpeechNewParamsResponseFormatWAV, nil
	case audioconv.FormatOgg:
		return openai.AudioSpeechNewParamsResponseFormatOpus, nil
	}
	return "", fmt.Errorf("no speech output format for %q", f)
}

func (o *OpenAI) Synthesize(ctx context.Context, text, voice string) (Audio, error) {
	rf, err := responseFormat(o.cfg.Format)
	if err != nil {
		return Audio{}, provider.Wrap(provider.OpenAI, "speech", err)
	}
	if len([]rune(text)) > maxSpeechInput {
		o.log.Warn("Reply exceeds speech input limit, truncating", "chars", len([]rune(text)))
		text = string([]rune(text)[:maxSpeechInput])
	}
	if voice == "" {
		voice = DefaultVoice
	}

	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          o.cfg.Model,
		Voice:          openai.AudioSpeechNewParamsVoice(strings.ToLower(voice)),
		ResponseFormat: rf,
	}
	if o.cfg.Speed > 0 {
		params.Speed = openai.Float(o.cfg.Speed)
	}

	resp, err := o.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return Audio{}, provider.Wrap(provider.OpenAI, "speech", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, provider.Wrap(provider.OpenAI, "speech", fmt.Errorf("read body: %w", err))
	}
	if len(data) == 0 {
		return Audio{}, provider.Wrap(provider.OpenAI, "speech", provider.ErrEmptyResponse)
	}

	o.log.Debug("Synthesized", "chars", len(text), "bytes", len(data), "voice", voice)

	return Audio{Data: data, Format: o.cfg.Format}, nil
}
