package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/youpy/go-wav"
)

// Play sends a recorded WAV artifact to the default output device and
// returns when the file ends or ctx is done. PortAudio must be initialized.
func Play(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		return fmt.Errorf("failed to read wav format: %w", err)
	}

	done := make(chan struct{})
	var once sync.Once
	channels := int(format.NumChannels)

	stream, err := portaudio.OpenDefaultStream(
		0,
		channels,
		float64(format.SampleRate),
		framesPerBuffer,
		func(out []int16) {
			samples, err := reader.ReadSamples(uint32(len(out) / channels))
			if err != nil {
				if err != io.EOF {
					slog.Error("Error reading from WAV file", "error", err)
				}
				samples = nil
			}

			n := 0
			for _, s := range samples {
				for c := 0; c < channels && c < len(s.Values) && n < len(out); c++ {
					out[n] = int16(s.Values[c])
					n++
				}
			}
			// Fill remaining buffer with silence
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
			if len(samples) == 0 {
				once.Do(func() { close(done) })
			}
		},
	)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	slog.Info("Playing audio", "file", path, "sampleRate", format.SampleRate, "channels", channels)

	select {
	case <-done:
	case <-ctx.Done():
	}
	return stream.Stop()
}
