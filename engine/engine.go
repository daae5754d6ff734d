package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bosley/listener/transcript"
)

// ErrUnavailable is returned when a model backend cannot be reached or loaded.
var ErrUnavailable = errors.New("model backend unavailable")

// DefaultLanguage is used when the transcriber does not report a language.
const DefaultLanguage = "en"

// Transcription is the timed text of one audio file.
type Transcription struct {
	Language string
	Segments []transcript.Segment
}

// Transcriber turns an audio file into timed text segments ordered by start.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (*Transcription, error)
}

// Diarizer returns the speaker turns of an audio file in the order the
// backend produced them.
type Diarizer interface {
	Diarize(ctx context.Context, path string) ([]transcript.Turn, error)
}

// Checker is implemented by backends that can verify they are usable.
type Checker interface {
	Check(ctx context.Context) error
}

// LanguageOrDefault returns the reported language or DefaultLanguage.
func (t *Transcription) LanguageOrDefault() string {
	if t == nil || strings.TrimSpace(t.Language) == "" {
		return DefaultLanguage
	}
	return t.Language
}

// lazy runs a Checker on first use and remembers success. A failed check is
// retried on the next call.
type lazy struct {
	name    string
	checker Checker
	mu      sync.Mutex
	ok      bool
}

func (l *lazy) ready(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ok || l.checker == nil {
		return nil
	}
	slog.Info("Loading model backend", "backend", l.name)
	if err := l.checker.Check(ctx); err != nil {
		slog.Error("Model backend unavailable", "backend", l.name, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, l.name, err)
	}
	l.ok = true
	slog.Info("Model backend ready", "backend", l.name)
	return nil
}

// LazyTranscriber defers the availability check of a Transcriber until the
// first transcription.
type LazyTranscriber struct {
	inner Transcriber
	lazy  lazy
}

// NewLazyTranscriber wraps t. If t implements Checker it is checked
// before first use.
func NewLazyTranscriber(name string, t Transcriber) *LazyTranscriber {
	c, _ := t.(Checker)
	return &LazyTranscriber{inner: t, lazy: lazy{name: name, checker: c}}
}

func (l *LazyTranscriber) Transcribe(ctx context.Context, path string) (*Transcription, error) {
	if err := l.lazy.ready(ctx); err != nil {
		return nil, err
	}
	return l.inner.Transcribe(ctx, path)
}

// LazyDiarizer defers the availability check of a Diarizer until the first
// diarization.
type LazyDiarizer struct {
	inner Diarizer
	lazy  lazy
}

// NewLazyDiarizer wraps d. If d implements Checker it is checked
// before first use.
func NewLazyDiarizer(name string, d Diarizer) *LazyDiarizer {
	c, _ := d.(Checker)
	return &LazyDiarizer{inner: d, lazy: lazy{name: name, checker: c}}
}

func (l *LazyDiarizer) Diarize(ctx context.Context, path string) ([]transcript.Turn, error) {
	if err := l.lazy.ready(ctx); err != nil {
		return nil, err
	}
	return l.inner.Diarize(ctx, path)
}
