package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bosley/listener/transcript"
)

const (
	defaultWhisperURL     = "http://localhost:8387"
	defaultWhisperModel   = "base"
	defaultWhisperTimeout = 10 * time.Minute
)

// WhisperConfig configures the faster-whisper HTTP sidecar client.
type WhisperConfig struct {
	URL      string
	Model    string
	Language string // empty lets the model detect it
	Timeout  time.Duration
}

// WhisperHTTP transcribes through a faster-whisper sidecar.
type WhisperHTTP struct {
	cfg    WhisperConfig
	client *http.Client
}

// NewWhisperHTTP creates a sidecar client, filling defaults.
func NewWhisperHTTP(cfg WhisperConfig) *WhisperHTTP {
	if cfg.URL == "" {
		cfg.URL = defaultWhisperURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultWhisperModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultWhisperTimeout
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &WhisperHTTP{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Check verifies the sidecar answers its health endpoint.
func (w *WhisperHTTP) Check(ctx context.Context) error {
	return checkHealth(ctx, w.client, w.cfg.URL)
}

func (w *WhisperHTTP) Transcribe(ctx context.Context, path string) (*Transcription, error) {
	fields := map[string]string{"model": w.cfg.Model}
	if w.cfg.Language != "" {
		fields["language"] = w.cfg.Language
	}

	var result whisperResponse
	if err := postAudio(ctx, w.client, w.cfg.URL+"/transcribe", path, fields, &result); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	segments := make([]transcript.Segment, len(result.Segments))
	for i, seg := range result.Segments {
		segments[i] = transcript.Segment{Start: seg.Start, End: seg.End, Text: seg.Text}
	}
	return &Transcription{Language: result.Language, Segments: segments}, nil
}

type whisperResponse struct {
	Text     string           `json:"text"`
	Segments []whisperSegment `json:"segments"`
	Language string           `json:"language"`
}

type whisperSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// postAudio uploads the file at path as multipart field "audio" and decodes
// the JSON response into out.
func postAudio(ctx context.Context, client *http.Client, url, path string, fields map[string]string, out any) error {
	audioData, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read audio file: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return fmt.Errorf("write audio data: %w", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
