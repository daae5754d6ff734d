package scribe

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bosley/listener/audio"
	"github.com/bosley/listener/capture"
	"github.com/bosley/listener/events"
	"github.com/bosley/listener/store"
)

var (
	ErrQueueFull    = errors.New("job queue is full")
	ErrShuttingDown = errors.New("service is shutting down")
)

// Workflow names the pipeline a job runs.
type Workflow string

const (
	WorkflowLive   Workflow = "live"
	WorkflowUpload Workflow = "upload"
)

// Stage names the step of a workflow that failed.
type Stage string

const (
	StageCapture    Stage = "capture"
	StagePersist    Stage = "persist"
	StageNormalize  Stage = "normalize"
	StageTranscribe Stage = "transcribe"
	StageDiarize    Stage = "diarize"
)

// Outcome is the result of one workflow run.
type Outcome struct {
	MeetingID  uuid.UUID
	Workflow   Workflow
	Status     store.Status
	Stage      Stage
	Err        error
	Utterances int
}

func (o *Outcome) fail(stage Stage, err error) *Outcome {
	o.Status = store.StatusFailed
	o.Stage = stage
	o.Err = err
	return o
}

// Detail is the text stored on a failed meeting.
func (o *Outcome) Detail() string {
	if o.Err == nil {
		return ""
	}
	return string(o.Stage) + ": " + o.Err.Error()
}

// Job is one unit of work for the worker pool.
type Job struct {
	Workflow  Workflow
	MeetingID uuid.UUID
	Enqueued  time.Time

	// live
	Artifacts  *capture.Artifacts
	CaptureErr error

	// upload
	FilePath string
}

// Store is the persistence the orchestrator needs.
type Store interface {
	CreateMeeting(ctx context.Context, status store.Status) (*store.Meeting, error)
	CreateTrack(ctx context.Context, meetingID uuid.UUID, role audio.Role, path string, durationSec float64) (*store.AudioTrack, error)
	Complete(ctx context.Context, meetingID uuid.UUID, batches ...store.TrackUtterances) (int, error)
	Fail(ctx context.Context, id uuid.UUID, detail string) error
	GetMeeting(ctx context.Context, id uuid.UUID) (*store.Meeting, error)
	ListMeetings(ctx context.Context, limit int) ([]store.Meeting, error)
	Utterances(ctx context.Context, meetingID uuid.UUID, trackID *uuid.UUID) ([]store.Utterance, error)
	DeleteMeeting(ctx context.Context, id uuid.UUID) error
}

// Publisher receives every meeting status transition.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Type      string       `json:"type"`
	MeetingID string       `json:"meetingId"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   events.Event `json:"payload"`
}

// recordRequest is the body of POST /record/start.
type recordRequest struct {
	DurationSec *int `json:"duration_sec"`
}

type startResponse struct {
	MeetingID string `json:"meeting_id"`
	Status    string `json:"status"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Recording bool   `json:"recording"`
}

type errorResponse struct {
	Error string `json:"error"`
}
