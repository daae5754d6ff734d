package transcript

// Segment is one timed piece of text produced by a transcriber.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Turn is one timed speaker interval produced by a diarizer.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Utterance is a speaker-labeled segment ready to be persisted.
type Utterance struct {
	Speaker  string  `json:"speaker_id"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Text     string  `json:"text"`
	Language string  `json:"language"`
}

// Role prefixes distinguish which source a speaker label came from.
const (
	PrefixUser   = "USER"
	PrefixRemote = "REMOTE_"
	PrefixFile   = "FILE_"

	// Unknown is the label used when no turn matches a segment.
	Unknown = "UNKNOWN"
)
