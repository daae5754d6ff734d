package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bosley/listener/audio"
)

const (
	sampleRate      = audio.SampleRate
	framesPerBuffer = 1024
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Config for a capture Session
type Config struct {
	// Directory that receives the recorded artifacts
	RecordingsDir string

	// Restrict loopback search to host APIs containing this name (e.g. "wasapi")
	LoopbackHostAPI string
}

// Session owns the recording hardware. At most one Recording exists at a time.
type Session struct {
	host Host
	cfg  Config

	mu    sync.Mutex
	state State
	stop  atomic.Bool

	now func() time.Time
}

// Artifacts are the two files produced by a Recording.
type Artifacts struct {
	UserPath   string
	RemotePath string

	// Captured is the audio length of each artifact.
	Captured time.Duration
	Chunks   int

	// Interrupted is set when a stream read ended the capture early.
	Interrupted error
}

// Recording is a started capture waiting to be run.
type Recording struct {
	session  *Session
	mic      Stream
	loopback Stream
	duration time.Duration

	Microphone Device
	Loopback   Device
	Confirmed  bool

	once sync.Once
}

// NewSession creates an idle Session recording from host.
func NewSession(host Host, cfg Config) *Session {
	if cfg.RecordingsDir == "" {
		cfg.RecordingsDir = "recordings"
	}
	return &Session{
		host: host,
		cfg:  cfg,
		now:  time.Now,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether a recording is in progress.
func (s *Session) Active() bool {
	return s.State() == StateRecording
}

// Start finds both devices, opens their streams and moves the session to
// recording. The returned Recording must be Run or Aborted.
func (s *Session) Start(duration time.Duration) (*Recording, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("invalid recording duration %s", duration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return nil, ErrSessionActive
	}

	mic, err := FindMicrophone(s.host)
	if err != nil {
		return nil, err
	}
	loopback, confirmed, err := FindLoopback(s.host, s.cfg.LoopbackHostAPI, sampleRate, framesPerBuffer)
	if err != nil {
		return nil, err
	}

	micStream, err := s.host.Open(mic, sampleRate, framesPerBuffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open microphone stream: %w", err)
	}
	loopbackStream, err := s.host.Open(loopback, sampleRate, framesPerBuffer)
	if err != nil {
		micStream.Close()
		return nil, fmt.Errorf("failed to open loopback stream: %w", err)
	}

	s.stop.Store(false)
	s.state = StateRecording

	slog.Debug("Capture session started",
		"duration", duration,
		"microphone", mic.Name,
		"loopback", loopback.Name,
		"loopbackConfirmed", confirmed)

	return &Recording{
		session:    s,
		mic:        micStream,
		loopback:   loopbackStream,
		duration:   duration,
		Microphone: mic,
		Loopback:   loopback,
		Confirmed:  confirmed,
	}, nil
}

// Stop asks the running recording to finish after the current chunk.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return ErrNotRecording
	}
	s.stop.Store(true)
	slog.Info("Recording stop requested")
	return nil
}

// Record starts a recording and runs it to completion.
func (s *Session) Record(ctx context.Context, duration time.Duration) (*Artifacts, error) {
	rec, err := s.Start(duration)
	if err != nil {
		return nil, err
	}
	return rec.Run(ctx)
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.stop.Store(false)
}

// Abort closes the streams of a recording that will not be run.
func (r *Recording) Abort() {
	r.once.Do(func() {
		r.closeStreams()
		r.session.release()
	})
}

// Run captures both streams in lock-step until the duration elapses, Stop is
// called or ctx is done, then writes one artifact per stream. A read failure
// ends the capture early but still writes what was captured.
func (r *Recording) Run(ctx context.Context) (*Artifacts, error) {
	var (
		artifacts *Artifacts
		err       error
		ran       bool
	)
	r.once.Do(func() {
		ran = true
		defer r.session.release()
		artifacts, err = r.run(ctx)
	})
	if !ran {
		return nil, errors.New("recording already finished")
	}
	return artifacts, err
}

func (r *Recording) run(ctx context.Context) (*Artifacts, error) {
	user, remote, chunks, readErr := r.capture(ctx)

	ts := r.session.now()
	artifacts := &Artifacts{
		UserPath:    filepath.Join(r.session.cfg.RecordingsDir, audio.ArtifactName(audio.RoleUser, ts)),
		RemotePath:  filepath.Join(r.session.cfg.RecordingsDir, audio.ArtifactName(audio.RoleRemote, ts)),
		Captured:    time.Duration(len(user)) * time.Second / sampleRate,
		Chunks:      chunks,
		Interrupted: readErr,
	}

	if err := audio.WriteWAV(artifacts.UserPath, user, sampleRate); err != nil {
		return nil, fmt.Errorf("failed to save user audio: %w", err)
	}
	slog.Info("Audio file saved", "path", artifacts.UserPath)

	if err := audio.WriteWAV(artifacts.RemotePath, remote, sampleRate); err != nil {
		return nil, fmt.Errorf("failed to save remote audio: %w", err)
	}
	slog.Info("Audio file saved", "path", artifacts.RemotePath)

	slog.Info("Recording finished",
		"captured", artifacts.Captured,
		"chunks", chunks,
		"interrupted", readErr != nil)

	return artifacts, nil
}

func (r *Recording) capture(ctx context.Context) (user, remote []int16, chunks int, err error) {
	defer r.closeStreams()

	start := r.session.now()
	for !r.session.stop.Load() && r.session.now().Sub(start) < r.duration {
		if ctx.Err() != nil {
			slog.Debug("Recording context cancelled")
			return user, remote, chunks, nil
		}

		micData, err := r.mic.Read()
		if err != nil {
			slog.Error("Recording error", "stream", "microphone", "error", err)
			return user, remote, chunks, fmt.Errorf("%w: microphone: %v", ErrStreamRead, err)
		}
		loopbackData, err := r.loopback.Read()
		if err != nil {
			slog.Error("Recording error", "stream", "loopback", "error", err)
			return user, remote, chunks, fmt.Errorf("%w: loopback: %v", ErrStreamRead, err)
		}

		user = append(user, micData...)
		remote = append(remote, loopbackData...)
		chunks++
	}
	return user, remote, chunks, nil
}

func (r *Recording) closeStreams() {
	if err := r.mic.Close(); err != nil {
		slog.Error("Failed to close microphone stream", "error", err)
	}
	if err := r.loopback.Close(); err != nil {
		slog.Error("Failed to close loopback stream", "error", err)
	}
}
