package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bosley/listener/transcript"
)

// WhisperCLIConfig configures the whisper.cpp executable adapter.
type WhisperCLIConfig struct {
	Path     string // whisper.cpp binary
	Model    string // ggml model file
	Language string // empty lets the model detect it
}

// WhisperCLI transcribes by running whisper.cpp with JSON output.
type WhisperCLI struct {
	cfg WhisperCLIConfig
}

// NewWhisperCLI creates the adapter. Path defaults to "whisper-cli".
func NewWhisperCLI(cfg WhisperCLIConfig) *WhisperCLI {
	if cfg.Path == "" {
		cfg.Path = "whisper-cli"
	}
	return &WhisperCLI{cfg: cfg}
}

// Check verifies the binary is on PATH and the model file exists.
func (w *WhisperCLI) Check(_ context.Context) error {
	if _, err := exec.LookPath(w.cfg.Path); err != nil {
		return fmt.Errorf("whisper binary %q: %w", w.cfg.Path, err)
	}
	if w.cfg.Model != "" {
		if _, err := os.Stat(w.cfg.Model); err != nil {
			return fmt.Errorf("whisper model: %w", err)
		}
	}
	return nil
}

func (w *WhisperCLI) Transcribe(ctx context.Context, path string) (*Transcription, error) {
	outDir, err := os.MkdirTemp("", "whisper-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	base := filepath.Join(outDir, "out")
	args := []string{"--output-json", "--output-file", base}
	if w.cfg.Model != "" {
		args = append(args, "--model", w.cfg.Model)
	}
	if w.cfg.Language != "" {
		args = append(args, "--language", w.cfg.Language)
	} else {
		args = append(args, "--language", "auto")
	}
	args = append(args, "--file", path)

	cmd := exec.CommandContext(ctx, w.cfg.Path, args...)
	slog.Debug("Executing whisper command", "command", cmd.String())

	if _, err := cmd.Output(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			slog.Debug("Whisper command failed",
				"stderr", string(exitErr.Stderr),
				"exitCode", exitErr.ExitCode())
		}
		return nil, fmt.Errorf("whisper execution failed: %w", err)
	}

	data, err := os.ReadFile(base + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to read whisper output: %w", err)
	}
	return parseWhisperCPP(data)
}

type whisperCPPOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseWhisperCPP converts whisper.cpp JSON output. Offsets are milliseconds.
// Blank audio markers are dropped.
func parseWhisperCPP(data []byte) (*Transcription, error) {
	var out whisperCPPOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode whisper output: %w", err)
	}

	t := &Transcription{Language: out.Result.Language}
	for _, seg := range out.Transcription {
		if strings.Contains(seg.Text, "[BLANK_AUDIO]") {
			continue
		}
		t.Segments = append(t.Segments, transcript.Segment{
			Start: float64(seg.Offsets.From) / 1000,
			End:   float64(seg.Offsets.To) / 1000,
			Text:  seg.Text,
		})
	}
	return t, nil
}
