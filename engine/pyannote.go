package engine

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bosley/listener/transcript"
)

const (
	defaultPyannoteURL     = "http://localhost:8388"
	defaultPyannoteModel   = "pyannote/speaker-diarization-3.1"
	defaultPyannoteTimeout = 15 * time.Minute
)

// PyannoteConfig configures the pyannote HTTP sidecar client.
type PyannoteConfig struct {
	URL         string
	Model       string
	NumSpeakers int
	Timeout     time.Duration
}

// Pyannote diarizes through a pyannote sidecar.
type Pyannote struct {
	cfg    PyannoteConfig
	client *http.Client
}

// NewPyannote creates a sidecar client, filling defaults.
func NewPyannote(cfg PyannoteConfig) *Pyannote {
	if cfg.URL == "" {
		cfg.URL = defaultPyannoteURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultPyannoteModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultPyannoteTimeout
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Pyannote{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Check verifies the sidecar answers its health endpoint.
func (p *Pyannote) Check(ctx context.Context) error {
	return checkHealth(ctx, p.client, p.cfg.URL)
}

func (p *Pyannote) Diarize(ctx context.Context, path string) ([]transcript.Turn, error) {
	fields := map[string]string{"model": p.cfg.Model}
	if p.cfg.NumSpeakers > 0 {
		fields["num_speakers"] = strconv.Itoa(p.cfg.NumSpeakers)
	}

	var result pyannoteResponse
	if err := postAudio(ctx, p.client, p.cfg.URL+"/diarize", path, fields, &result); err != nil {
		return nil, fmt.Errorf("diarization: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("diarization error: %s", result.Error)
	}

	turns := make([]transcript.Turn, len(result.Segments))
	for i, seg := range result.Segments {
		turns[i] = transcript.Turn{Start: seg.StartTime, End: seg.EndTime, Speaker: seg.SpeakerID}
	}
	return turns, nil
}

type pyannoteResponse struct {
	Segments    []pyannoteSegment `json:"segments"`
	NumSpeakers int               `json:"num_speakers"`
	Error       string            `json:"error,omitempty"`
}

type pyannoteSegment struct {
	SpeakerID string  `json:"speaker_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}
