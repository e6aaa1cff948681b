// Package tts renders reply text as speech audio.
package tts

import (
	"fmt"
	"slices"
	"strings"

	"voxrelay/pkg/audioconv"
)

// Audio is synthesised speech in the backend's native container.
type Audio struct {
	Data   []byte
	Format audioconv.Format
}

// Voices lists the voice names the OpenAI speech endpoint accepts.
var Voices = []string{
	"alloy", "ash", "ballad", "coral", "echo", "fable",
	"nova", "onyx", "sage", "shimmer", "verse", "marin", "cedar",
}

// ValidateVoice returns an error for voice names the provider does not accept.
func ValidateVoice(voice string) error {
	if slices.Contains(Voices, strings.ToLower(voice)) {
		return nil
	}
	return fmt.Errorf("unknown voice %q (want one of %s)", voice, strings.Join(Voices, ", "))
}
