// Package stt turns recorded speech into text, either through the OpenAI
// transcription endpoint or a local whisper.cpp model.
package stt

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string // detected or forced
}

// Options tune a transcription. Zero values leave the backend defaults.
type Options struct {
	Language    string  // ISO-639-1, "" or "auto" = detect
	Prompt      string  // style hint, not conversation history
	Temperature float32 // 0 = default
	Threads     int     // whisper only, <=0 => NumCPU()
}
