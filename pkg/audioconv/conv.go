// Package audioconv converts voice audio between the chat voice container
// (Ogg/Opus) and the formats the speech providers consume and emit.
package audioconv

import (
	"context"
	"fmt"
	"time"
)

type Options struct {
	TranscriptionRate int           // sample rate of WAV handed to transcription, default 16000
	OpusBitrate       int           // bits per second, 0 = encoder default
	MinDuration       time.Duration // shorter output is padded with silence, default 100ms
	MaxDuration       time.Duration // longer input is truncated, 0 = no limit
}

// Converter is stateless; one instance is shared by every pipeline run.
type Converter struct {
	opt Options
}

func New(opt Options) *Converter {
	if opt.TranscriptionRate <= 0 {
		opt.TranscriptionRate = 16000
	}
	if opt.MinDuration <= 0 {
		opt.MinDuration = 100 * time.Millisecond
	}
	return &Converter{opt: opt}
}

var routes = map[[2]Format]bool{
	{FormatOgg, FormatWAV}: true, // voice message -> transcription
	{FormatMP3, FormatOgg}: true, // synthesis output -> voice message
	{FormatWAV, FormatOgg}: true,
	{FormatOgg, FormatOgg}: true,
}

// Supports reports whether Convert has a route from one format to another.
func Supports(from, to Format) bool {
	return routes[[2]Format{from, to}]
}

// Convert decodes data as from and re-encodes it as to. Every failure is an *Error.
func (c *Converter) Convert(ctx context.Context, data []byte, from, to Format) (out []byte, err error) {
	if !Supports(from, to) {
		return nil, &Error{Op: "convert", From: from, To: to, Kind: ErrUnsupported}
	}
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "convert", From: from, To: to, Kind: ErrEncode, Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &Error{Op: "decode", From: from, To: to, Kind: ErrCorrupt, Err: fmt.Errorf("decoder panic: %v", r)}
		}
	}()

	p, err := decode(data, from)
	if err != nil {
		return nil, &Error{Op: "decode", From: from, To: to, Kind: ErrCorrupt, Err: err}
	}

	rate := c.targetRate(to)
	samples := resample(p.samples, p.rate, rate)
	if c.opt.MaxDuration > 0 {
		if limit := samplesFor(c.opt.MaxDuration, rate); len(samples) > limit {
			samples = samples[:limit]
		}
	}
	samples = padTo(samples, samplesFor(c.opt.MinDuration, rate))

	switch to {
	case FormatWAV:
		out, err = encodeWAV(samples, rate)
	case FormatOgg:
		out, err = encodeOggOpus(samples, c.opt.OpusBitrate)
	}
	if err != nil {
		return nil, &Error{Op: "encode", From: from, To: to, Kind: ErrEncode, Err: err}
	}
	return out, nil
}

func (c *Converter) targetRate(to Format) int {
	if to == FormatOgg {
		return opusSampleRate
	}
	return c.opt.TranscriptionRate
}

func samplesFor(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate))
}
