package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/youpy/go-wav"
)

const (
	SampleRate    = 16000 // Rate required by Whisper and used for capture
	Channels      = 1     // Mono audio
	BitsPerSample = 16    // Using int16 for samples
)

// Role names the source of an artifact and prefixes its file name.
type Role string

const (
	RoleUser     Role = "user"
	RoleRemote   Role = "remote"
	RoleUploaded Role = "uploaded"
)

// ArtifactName returns the file name for a recording of role made at t.
func ArtifactName(role Role, t time.Time) string {
	return fmt.Sprintf("%s_%d.wav", role, t.Unix())
}

// WriteWAV writes mono 16-bit PCM samples to path as a WAV file.
func WriteWAV(path string, samples []int16, sampleRate uint32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %w", err)
	}
	defer file.Close()

	buf := bufio.NewWriter(file)
	writer := wav.NewWriter(buf, uint32(len(samples)), Channels, sampleRate, BitsPerSample)

	frames := make([]wav.Sample, len(samples))
	for i, s := range samples {
		frames[i].Values[0] = int(s)
	}
	if err := writer.WriteSamples(frames); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}

	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush wav file: %w", err)
	}
	return file.Close()
}

// Size of a canonical PCM WAV header with an empty data chunk
const headerSize = 44

var errTruncated = errors.New("file shorter than a wav header")

// Duration reads the play time of a WAV file from its header.
func Duration(path string) (time.Duration, error) {
	file, size, err := openWAV(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	d, err := readDuration(file)
	if err != nil {
		// go-riff stops before a trailing zero-size chunk, so a header-only
		// artifact reports a missing data chunk.
		if size == headerSize {
			if _, ferr := readFormat(file); ferr == nil {
				return 0, nil
			}
		}
		return 0, fmt.Errorf("failed to read wav duration: %w", err)
	}
	return d, nil
}

// Format returns the sample format stored in a WAV header.
func Format(path string) (*wav.WavFormat, error) {
	file, _, err := openWAV(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readFormat(file)
}

func openWAV(path string) (*os.File, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, err
	}
	if info.Size() < headerSize {
		file.Close()
		return nil, 0, fmt.Errorf("%s: %w", filepath.Base(path), errTruncated)
	}
	return file, info.Size(), nil
}

// go-riff panics on malformed chunk tables instead of returning an error.
func readDuration(file *os.File) (d time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed wav: %v", r)
		}
	}()
	return wav.NewReader(file).Duration()
}

func readFormat(file *os.File) (format *wav.WavFormat, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed wav: %v", r)
		}
	}()
	return wav.NewReader(file).Format()
}

// Normalize converts any ffmpeg-readable input into a 16kHz mono WAV at
// outputPath.
func Normalize(ctx context.Context, inputPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", fmt.Sprintf("%d", Channels),
		"-y", // Overwrite output file
		outputPath)

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to resample audio: %w\n%s", err, string(out))
	}
	return nil
}
