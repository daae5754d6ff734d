package scribe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bosley/listener/capture"
	"github.com/bosley/listener/engine"
	"github.com/bosley/listener/events"
	"github.com/bosley/listener/metrics"
	"github.com/bosley/listener/store"
	"github.com/bosley/listener/transcript"
)

// Configuration for the Scribe service
type Config struct {
	// Certificate files for TLS, plain HTTP when empty
	CertFile string
	KeyFile  string

	// HTTP server address
	HTTPAddr string

	// Bearer token for the API, disabled when empty
	Token string

	// Where uploaded files are stored while they are processed
	UploadDir string

	// Audio files dropped here are ingested like uploads
	InboxDir string

	// Number of worker goroutines and queued jobs
	Workers   int
	QueueSize int

	// Recording length when a request gives none
	DefaultDuration time.Duration

	MaxUploadBytes   int64
	NormalizeUploads bool

	// "endpoint" or "overlap"
	Match string
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Session     *capture.Session
	Transcriber engine.Transcriber
	Diarizer    engine.Diarizer
	Store       Store

	// Optional
	Events   Publisher
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Scribe runs recordings and uploads through transcription, diarization and
// attribution, and serves the results.
type Scribe struct {
	config Config
	deps   Deps
	match  transcript.Matcher

	// Processing queue. closed is set under mu once Stop begins; done is
	// closed after the last capture has queued its job. The queue channel
	// itself is never closed.
	mu       sync.RWMutex
	closed   bool
	stopping atomic.Bool
	queue    chan Job
	done     chan struct{}
	doneOnce sync.Once
	workers  sync.WaitGroup
	captures sync.WaitGroup

	// Jobs outlive request contexts and are cancelled only on a forced stop
	jobCtx    context.Context
	cancelJob context.CancelFunc

	// File system watcher
	watcher *fsnotify.Watcher
	settle  time.Duration

	// Websocket subscribers keyed by meeting id, allSubscribers for every meeting
	subs *hub

	// HTTP/Websocket
	server   *http.Server
	upgrader websocket.Upgrader

	now func() time.Time
}

const allSubscribers = "*"

// New creates a new Scribe instance
func New(cfg Config, deps Deps) (*Scribe, error) {
	if deps.Session == nil || deps.Transcriber == nil || deps.Diarizer == nil || deps.Store == nil {
		return nil, errors.New("scribe needs a capture session, transcriber, diarizer and store")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 60 * time.Second
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 512 << 20
	}
	if deps.Events == nil {
		deps.Events = events.New(events.Config{}, deps.Metrics)
	}

	match, err := transcript.MatcherByName(cfg.Match)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	s := &Scribe{
		config: cfg,
		deps:   deps,
		match:  match,
		queue:  make(chan Job, cfg.QueueSize),
		done:   make(chan struct{}),
		subs:   newHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		settle: inboxSettle,
		now:    time.Now,
	}
	s.jobCtx, s.cancelJob = context.WithCancel(context.Background())

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
		}
		s.server = &http.Server{
			Addr:      cfg.HTTPAddr,
			TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		}
	} else {
		s.server = &http.Server{Addr: cfg.HTTPAddr}
	}

	if cfg.InboxDir != "" {
		if err := os.MkdirAll(cfg.InboxDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create inbox directory: %w", err)
		}
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		if err := watcher.Add(cfg.InboxDir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch inbox directory: %w", err)
		}
		s.watcher = watcher
	}

	return s, nil
}

// Start runs the worker pool, the inbox watcher and the HTTP server. It
// blocks until ctx is done.
func (s *Scribe) Start(ctx context.Context) error {
	s.startWorkers()

	if s.watcher != nil {
		go s.watchInbox(ctx)
	}

	return s.startHTTP(ctx)
}

func (s *Scribe) startWorkers() {
	for i := 0; i < s.config.Workers; i++ {
		s.workers.Add(1)
		go s.worker(s.jobCtx)
	}
}

// Stop ends any recording, drains queued jobs and shuts the service down.
// Jobs still running when ctx expires are cancelled.
func (s *Scribe) Stop(ctx context.Context) error {
	s.stopping.Store(true)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if err := s.deps.Session.Stop(); err != nil && !errors.Is(err, capture.ErrNotRecording) {
		slog.Error("Failed to stop recording", "error", err)
	}

	if err := s.wait(ctx, &s.captures); err != nil {
		s.cancelJob()
		return err
	}
	s.doneOnce.Do(func() { close(s.done) })

	if err := s.wait(ctx, &s.workers); err != nil {
		s.cancelJob()
		return err
	}
	s.cancelJob()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop HTTP server: %w", err)
		}
	}

	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close file watcher: %w", err)
		}
	}

	return nil
}

func (s *Scribe) wait(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out")
	}
}

// enqueue hands a job to the worker pool. Non-blocking enqueues fail with
// ErrQueueFull when no slot is free. A blocking enqueue waits for a slot
// without holding mu, so workers keep draining while it waits.
func (s *Scribe) enqueue(job Job, block bool) error {
	job.Enqueued = s.now()

	if block {
		select {
		case s.queue <- job:
		case <-s.done:
			return ErrShuttingDown
		case <-s.jobCtx.Done():
			return ErrShuttingDown
		}
	} else if err := s.offer(job); err != nil {
		return err
	}

	s.deps.Metrics.SetQueueDepth(len(s.queue))
	return nil
}

// offer never blocks, so it may hold the read lock across the send. Stop
// takes the write lock before workers begin their final drain, which keeps
// an accepted job from landing after it.
func (s *Scribe) offer(job Job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrShuttingDown
	}
	select {
	case s.queue <- job:
		return nil
	default:
		s.deps.Metrics.RecordQueueRejected()
		return ErrQueueFull
	}
}

// admitCapture registers a capture goroutine unless Stop has begun.
func (s *Scribe) admitCapture() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	s.captures.Add(1)
	return true
}

// Recording reports whether a live capture is in progress.
func (s *Scribe) Recording() bool {
	return s.deps.Session.Active()
}

// StartRecording opens both capture streams, creates a recording meeting and
// captures in the background. Processing is queued when capture ends.
func (s *Scribe) StartRecording(ctx context.Context, duration time.Duration) (*store.Meeting, error) {
	if s.stopping.Load() {
		return nil, ErrShuttingDown
	}
	if duration <= 0 {
		duration = s.config.DefaultDuration
	}

	rec, err := s.deps.Session.Start(duration)
	if err != nil {
		return nil, err
	}
	if !s.admitCapture() {
		rec.Abort()
		return nil, ErrShuttingDown
	}

	m, err := s.deps.Store.CreateMeeting(ctx, store.StatusRecording)
	if err != nil {
		rec.Abort()
		s.captures.Done()
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}

	slog.Info("Recording started",
		"meetingID", m.ID,
		"duration", duration,
		"microphone", rec.Microphone.Name,
		"loopback", rec.Loopback.Name)

	s.deps.Metrics.SetRecording(true)
	s.notify(ctx, events.Event{
		MeetingID: m.ID.String(),
		Workflow:  string(WorkflowLive),
		Status:    string(store.StatusRecording),
	})

	go s.capture(m.ID, rec)

	return m, nil
}

// capture runs the recording to its end and queues the processing job.
func (s *Scribe) capture(meetingID uuid.UUID, rec *capture.Recording) {
	defer s.captures.Done()
	defer s.deps.Metrics.SetRecording(false)

	artifacts, err := rec.Run(s.jobCtx)
	if artifacts != nil {
		s.deps.Metrics.RecordCapture(artifacts.Captured, artifacts.Interrupted != nil)
	}

	job := Job{
		Workflow:   WorkflowLive,
		MeetingID:  meetingID,
		Artifacts:  artifacts,
		CaptureErr: err,
	}
	if err := s.enqueue(job, true); err != nil {
		s.finish(&Outcome{
			MeetingID: meetingID,
			Workflow:  WorkflowLive,
			Status:    store.StatusFailed,
			Stage:     StageCapture,
			Err:       err,
		}, s.now())
	}
}

// StopRecording asks the active recording to end.
func (s *Scribe) StopRecording() error {
	return s.deps.Session.Stop()
}

// ProcessFile queues an audio file for the upload workflow. The file is
// removed once processing ends, or right away when it cannot be queued.
func (s *Scribe) ProcessFile(ctx context.Context, path string) (*store.Meeting, error) {
	if s.stopping.Load() {
		removeTemp(path)
		return nil, ErrShuttingDown
	}

	m, err := s.deps.Store.CreateMeeting(ctx, store.StatusProcessing)
	if err != nil {
		removeTemp(path)
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}

	s.notify(ctx, events.Event{
		MeetingID: m.ID.String(),
		Workflow:  string(WorkflowUpload),
		Status:    string(store.StatusProcessing),
	})

	job := Job{Workflow: WorkflowUpload, MeetingID: m.ID, FilePath: path}
	if err := s.enqueue(job, false); err != nil {
		s.finish(&Outcome{
			MeetingID: m.ID,
			Workflow:  WorkflowUpload,
			Status:    store.StatusFailed,
			Stage:     StagePersist,
			Err:       err,
		}, s.now())
		removeTemp(path)
		return nil, err
	}

	slog.Info("Queued audio file for processing",
		"meetingID", m.ID,
		"file", path)
	return m, nil
}
