//go:build !espeak

package tts

import (
	"context"
	"errors"
)

// ErrEspeakDisabled is returned when the binary was built without the espeak tag.
var ErrEspeakDisabled = errors.New("tts: built without espeak support (use -tags espeak)")

type Espeak struct{}

func NewEspeak(string) (*Espeak, error) { return nil, ErrEspeakDisabled }

func (*Espeak) Synthesize(context.Context, string, string) (Audio, error) {
	return Audio{}, ErrEspeakDisabled
}
