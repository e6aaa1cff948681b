package stt

import (
	"bytes"
	"context"
	"strings"

	openai "github.com/openai/openai-go/v3"

	"voxrelay/internal/provider"
	"voxrelay/pkg/audioconv"
)

const DefaultModel = "whisper-1"

// OpenAI transcribes through POST audio/transcriptions with a fixed model.
type OpenAI struct {
	client openai.Client
	model  string
	opt    Options
}

func NewOpenAI(client openai.Client, model string, opt Options) *OpenAI {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{client: client, model: model, opt: opt}
}

// Transcribe uploads audio as a single file and returns the recognised text, trimmed.
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, format audioconv.Format) (Result, error) {
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), "voice"+format.Ext(), format.MIME()),
		Model: openai.AudioModel(o.model),
	}
	if lang := o.opt.Language; lang != "" && lang != "auto" {
		params.Language = openai.String(lang)
	}
	if o.opt.Prompt != "" {
		params.Prompt = openai.String(o.opt.Prompt)
	}
	if o.opt.Temperature != 0 {
		params.Temperature = openai.Float(float64(o.opt.Temperature))
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return Result{}, provider.Wrap(provider.OpenAI, "transcribe", err)
	}
	if resp == nil {
		return Result{}, provider.Wrap(provider.OpenAI, "transcribe", provider.ErrEmptyResponse)
	}

	return Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
	}, nil
}
