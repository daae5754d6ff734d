package scribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bosley/listener/audio"
	"github.com/bosley/listener/engine"
	"github.com/bosley/listener/events"
	"github.com/bosley/listener/store"
	"github.com/bosley/listener/transcript"
)

// Time allowed to record a terminal status after the job context is gone
const finishTimeout = 10 * time.Second

func (s *Scribe) worker(ctx context.Context) {
	slog.Debug("Worker starting")
	defer func() {
		slog.Debug("Worker shutting down")
		s.workers.Done()
	}()

	for {
		select {
		case job := <-s.queue:
			s.deps.Metrics.SetQueueDepth(len(s.queue))
			s.runJob(ctx, job)
		case <-s.done:
			s.drain(ctx)
			return
		}
	}
}

// drain runs the jobs still queued when shutdown begins.
func (s *Scribe) drain(ctx context.Context) {
	for {
		select {
		case job := <-s.queue:
			s.deps.Metrics.SetQueueDepth(len(s.queue))
			s.runJob(ctx, job)
		default:
			slog.Debug("Worker queue drained")
			return
		}
	}
}

// runJob executes one workflow and commits its outcome. A panic inside the
// workflow fails the meeting at the stage that was running.
func (s *Scribe) runJob(ctx context.Context, job Job) {
	started := s.now()
	o := &Outcome{MeetingID: job.MeetingID, Workflow: job.Workflow}

	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Workflow panicked",
					"meetingID", job.MeetingID,
					"workflow", job.Workflow,
					"stage", o.Stage,
					"panic", r)
				o.fail(o.Stage, fmt.Errorf("panic: %v", r))
			}
		}()

		switch job.Workflow {
		case WorkflowLive:
			s.processLive(ctx, job, o)
		case WorkflowUpload:
			s.processUpload(ctx, job, o)
		default:
			o.fail(StagePersist, fmt.Errorf("unknown workflow %q", job.Workflow))
		}
	}()

	s.finish(o, started)
}

// processLive transcribes the microphone track under one fixed speaker and
// attributes the remote track through diarization.
func (s *Scribe) processLive(ctx context.Context, job Job, o *Outcome) {
	o.Stage = StageCapture
	if job.CaptureErr != nil {
		o.fail(StageCapture, job.CaptureErr)
		return
	}
	if job.Artifacts == nil {
		o.fail(StageCapture, errors.New("recording produced no artifacts"))
		return
	}
	if job.Artifacts.Interrupted != nil {
		slog.Warn("Recording ended early, processing captured audio",
			"meetingID", job.MeetingID,
			"error", job.Artifacts.Interrupted)
	}

	o.Stage = StagePersist
	userTrack, err := s.deps.Store.CreateTrack(ctx, job.MeetingID, audio.RoleUser,
		job.Artifacts.UserPath, durationSec(job.Artifacts.UserPath))
	if err != nil {
		o.fail(StagePersist, err)
		return
	}
	remoteTrack, err := s.deps.Store.CreateTrack(ctx, job.MeetingID, audio.RoleRemote,
		job.Artifacts.RemotePath, durationSec(job.Artifacts.RemotePath))
	if err != nil {
		o.fail(StagePersist, err)
		return
	}

	o.Stage = StageTranscribe
	userText, err := s.transcribe(ctx, job.Artifacts.UserPath)
	if err != nil {
		o.fail(StageTranscribe, err)
		return
	}
	userUtts := transcript.Label(userText.Segments, userText.LanguageOrDefault(), transcript.PrefixUser)

	o.Stage = StageDiarize
	turns, err := s.diarize(ctx, job.Artifacts.RemotePath)
	if err != nil {
		o.fail(StageDiarize, err)
		return
	}

	o.Stage = StageTranscribe
	remoteText, err := s.transcribe(ctx, job.Artifacts.RemotePath)
	if err != nil {
		o.fail(StageTranscribe, err)
		return
	}
	remoteUtts := transcript.AttributeWith(s.match, remoteText.Segments, turns,
		remoteText.LanguageOrDefault(), transcript.PrefixRemote)

	s.deps.Metrics.RecordUtterances(string(audio.RoleUser), len(userUtts), 0)
	s.deps.Metrics.RecordUtterances(string(audio.RoleRemote), len(remoteUtts), countUnknown(remoteUtts, transcript.PrefixRemote))

	o.Stage = StagePersist
	n, err := s.deps.Store.Complete(ctx, job.MeetingID,
		store.TrackUtterances{TrackID: userTrack.ID, Utterances: userUtts},
		store.TrackUtterances{TrackID: remoteTrack.ID, Utterances: remoteUtts},
	)
	if err != nil {
		o.fail(StagePersist, err)
		return
	}

	o.Status = store.StatusCompleted
	o.Stage = ""
	o.Utterances = n
}

// processUpload attributes every segment of an uploaded file through
// diarization. The file and any normalized copy are removed afterwards.
func (s *Scribe) processUpload(ctx context.Context, job Job, o *Outcome) {
	temps := []string{job.FilePath}
	defer func() {
		for _, p := range temps {
			removeTemp(p)
		}
	}()

	o.Stage = StagePersist
	track, err := s.deps.Store.CreateTrack(ctx, job.MeetingID, audio.RoleUploaded,
		job.FilePath, durationSec(job.FilePath))
	if err != nil {
		o.fail(StagePersist, err)
		return
	}

	path := job.FilePath
	if s.config.NormalizeUploads {
		o.Stage = StageNormalize
		normalized := strings.TrimSuffix(path, ".wav") + ".norm.wav"
		temps = append(temps, normalized)
		if err := audio.Normalize(ctx, path, normalized); err != nil {
			o.fail(StageNormalize, err)
			return
		}
		path = normalized
	}

	o.Stage = StageTranscribe
	text, err := s.transcribe(ctx, path)
	if err != nil {
		o.fail(StageTranscribe, err)
		return
	}

	o.Stage = StageDiarize
	turns, err := s.diarize(ctx, path)
	if err != nil {
		o.fail(StageDiarize, err)
		return
	}

	utts := transcript.AttributeWith(s.match, text.Segments, turns,
		text.LanguageOrDefault(), transcript.PrefixFile)
	s.deps.Metrics.RecordUtterances(string(audio.RoleUploaded), len(utts), countUnknown(utts, transcript.PrefixFile))

	o.Stage = StagePersist
	n, err := s.deps.Store.Complete(ctx, job.MeetingID,
		store.TrackUtterances{TrackID: track.ID, Utterances: utts})
	if err != nil {
		o.fail(StagePersist, err)
		return
	}

	o.Status = store.StatusCompleted
	o.Stage = ""
	o.Utterances = n
}

func (s *Scribe) transcribe(ctx context.Context, path string) (*engine.Transcription, error) {
	start := time.Now()
	t, err := s.deps.Transcriber.Transcribe(ctx, path)
	s.deps.Metrics.RecordEngine("transcriber", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	if t == nil {
		t = &engine.Transcription{}
	}
	return t, nil
}

func (s *Scribe) diarize(ctx context.Context, path string) ([]transcript.Turn, error) {
	start := time.Now()
	turns, err := s.deps.Diarizer.Diarize(ctx, path)
	s.deps.Metrics.RecordEngine("diarizer", err, time.Since(start))
	return turns, err
}

// finish commits a failed status and reports the outcome. Completed meetings
// were already committed together with their utterances.
func (s *Scribe) finish(o *Outcome, started time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.jobCtx), finishTimeout)
	defer cancel()

	if o.Status != store.StatusCompleted {
		o.Status = store.StatusFailed
		if o.Err == nil {
			o.Err = errors.New("workflow ended without a result")
		}
		slog.Error("Meeting processing failed",
			"meetingID", o.MeetingID,
			"workflow", o.Workflow,
			"stage", o.Stage,
			"error", o.Err)
		if err := s.deps.Store.Fail(ctx, o.MeetingID, o.Detail()); err != nil {
			slog.Error("Failed to mark meeting failed",
				"meetingID", o.MeetingID,
				"error", err)
		}
	} else {
		slog.Info("Meeting processing completed",
			"meetingID", o.MeetingID,
			"workflow", o.Workflow,
			"utterances", o.Utterances)
	}

	s.deps.Metrics.RecordWorkflow(string(o.Workflow), string(o.Status), string(o.Stage), s.now().Sub(started))

	ev := events.Event{
		MeetingID:  o.MeetingID.String(),
		Workflow:   string(o.Workflow),
		Status:     string(o.Status),
		Utterances: o.Utterances,
	}
	if o.Err != nil {
		ev.Stage = string(o.Stage)
		ev.Error = o.Err.Error()
	}
	s.notify(ctx, ev)
}

// notify sends a status event to websocket subscribers and the publisher.
func (s *Scribe) notify(ctx context.Context, ev events.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}

	if err := s.deps.Events.Publish(ctx, ev); err != nil {
		slog.Warn("Failed to publish meeting event",
			"meetingID", ev.MeetingID,
			"status", ev.Status,
			"error", err)
	}

	data, err := json.Marshal(WebSocketMessage{
		Type:      "status",
		MeetingID: ev.MeetingID,
		Timestamp: ev.Timestamp,
		Payload:   ev,
	})
	if err != nil {
		slog.Error("Failed to marshal status message", "error", err)
		return
	}
	s.subs.publish(ev.MeetingID, data)
	s.subs.publish(allSubscribers, data)
}

func durationSec(path string) float64 {
	d, err := audio.Duration(path)
	if err != nil {
		slog.Debug("Could not read audio duration", "file", path, "error", err)
		return 0
	}
	return d.Seconds()
}

func countUnknown(utts []transcript.Utterance, prefix string) int {
	n := 0
	for _, u := range utts {
		if u.Speaker == prefix+transcript.Unknown {
			n++
		}
	}
	return n
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("Failed to remove temporary file", "file", path, "error", err)
	}
}
