package engine

import (
	"fmt"
	"strings"
	"time"
)

// Backend names accepted by NewTranscriber and NewDiarizer.
const (
	BackendWhisperHTTP = "whisper-http"
	BackendWhisperCLI  = "whisper-cli"
	BackendPyannote    = "pyannote"
)

// Config selects and configures the model backends.
type Config struct {
	Transcriber  string
	WhisperURL   string
	WhisperPath  string
	WhisperModel string
	Language     string

	Diarizer      string
	DiarizerURL   string
	DiarizerModel string
	NumSpeakers   int

	Timeout time.Duration
}

// NewTranscriber builds the configured transcriber behind a lazy first-use check.
func NewTranscriber(cfg Config) (*LazyTranscriber, error) {
	name := strings.ToLower(cfg.Transcriber)
	switch name {
	case "", BackendWhisperHTTP:
		return NewLazyTranscriber(BackendWhisperHTTP, NewWhisperHTTP(WhisperConfig{
			URL:      cfg.WhisperURL,
			Model:    cfg.WhisperModel,
			Language: cfg.Language,
			Timeout:  cfg.Timeout,
		})), nil
	case BackendWhisperCLI:
		return NewLazyTranscriber(BackendWhisperCLI, NewWhisperCLI(WhisperCLIConfig{
			Path:     cfg.WhisperPath,
			Model:    cfg.WhisperModel,
			Language: cfg.Language,
		})), nil
	default:
		return nil, fmt.Errorf("unknown transcriber backend %q", cfg.Transcriber)
	}
}

// NewDiarizer builds the configured diarizer behind a lazy first-use check.
func NewDiarizer(cfg Config) (*LazyDiarizer, error) {
	name := strings.ToLower(cfg.Diarizer)
	switch name {
	case "", BackendPyannote:
		return NewLazyDiarizer(BackendPyannote, NewPyannote(PyannoteConfig{
			URL:         cfg.DiarizerURL,
			Model:       cfg.DiarizerModel,
			NumSpeakers: cfg.NumSpeakers,
			Timeout:     cfg.Timeout,
		})), nil
	default:
		return nil, fmt.Errorf("unknown diarizer backend %q", cfg.Diarizer)
	}
}
