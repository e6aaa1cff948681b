package audioconv

import (
	"bytes"
	"mime"
	"strings"
)

// Format names an audio container as it travels between the transport and the providers.
type Format string

const (
	FormatOgg Format = "ogg" // Ogg/Opus (or Ogg/Vorbis on input), the chat voice container
	FormatWAV Format = "wav" // 16-bit PCM RIFF/WAVE
	FormatMP3 Format = "mp3"
)

// Ext returns the file extension used for artifacts of this format.
func (f Format) Ext() string {
	switch f {
	case FormatOgg, FormatWAV, FormatMP3:
		return "." + string(f)
	default:
		return ".bin"
	}
}

// MIME returns the content type providers expect for this format.
func (f Format) MIME() string {
	switch f {
	case FormatOgg:
		return "audio/ogg"
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, bool) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "ogg", "oga", "opus":
		return FormatOgg, true
	case "wav", "wave":
		return FormatWAV, true
	case "mp3", "mpeg":
		return FormatMP3, true
	}
	return "", false
}

// FormatFromMIME maps a transport supplied content type. Unknown types yield "".
func FormatFromMIME(contentType string) Format {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mt {
	case "audio/ogg", "audio/opus", "application/ogg", "audio/x-opus+ogg":
		return FormatOgg
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return FormatWAV
	case "audio/mpeg", "audio/mp3":
		return FormatMP3
	}
	return ""
}

// Sniff identifies a container from its leading bytes. Unknown data yields "".
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 4 && string(data[:4]) == "OggS":
		return FormatOgg
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG audio frame sync
		return FormatMP3
	}
	return ""
}
