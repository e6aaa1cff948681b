package relay

type State uint8

const (
	Received State = iota
	Decoded
	Transcribed
	RepliedText
	Synthesized
	Encoded
	Delivered
	CleanedUp
	Failed
)

var stateNames = [...]string{
	Received:    "received",
	Decoded:     "decoded",
	Transcribed: "transcribed",
	RepliedText: "replied_text",
	Synthesized: "synthesized",
	Encoded:     "encoded",
	Delivered:   "delivered",
	CleanedUp:   "cleaned_up",
	Failed:      "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "invalid"
}

type Stage uint8

const (
	StageDownload Stage = iota
	StageDecode
	StageTranscribe
	StageGenerate
	StageSynthesize
	StageEncode
	StageDeliver
	StageCleanup
)

var stageNames = [...]string{
	StageDownload:   "download",
	StageDecode:     "decode",
	StageTranscribe: "transcribe",
	StageGenerate:   "generate",
	StageSynthesize: "synthesize",
	StageEncode:     "encode",
	StageDeliver:    "deliver",
	StageCleanup:    "cleanup",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "invalid"
}

// reached is the state a run is in after stage completes.
func (s Stage) reached() State {
	switch s {
	case StageDownload:
		return Received
	case StageDecode:
		return Decoded
	case StageTranscribe:
		return Transcribed
	case StageGenerate:
		return RepliedText
	case StageSynthesize:
		return Synthesized
	case StageEncode:
		return Encoded
	case StageDeliver:
		return Delivered
	}
	return CleanedUp
}
