// Package metrics provides Prometheus collectors for the listener service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "listener"

// Metrics holds every collector. A nil *Metrics records nothing.
type Metrics struct {
	// Workflow metrics
	WorkflowsTotal   *prometheus.CounterVec
	WorkflowDuration *prometheus.HistogramVec
	StageFailures    *prometheus.CounterVec

	// Queue metrics
	QueueDepth    prometheus.Gauge
	QueueRejected prometheus.Counter

	// Capture metrics
	RecordingsActive   prometheus.Gauge
	CapturedSeconds    prometheus.Counter
	CaptureInterrupted prometheus.Counter

	// Model metrics
	EngineLatency *prometheus.HistogramVec
	EngineErrors  *prometheus.CounterVec

	// Attribution metrics
	UtterancesStored  *prometheus.CounterVec
	UnknownAttributed *prometheus.CounterVec

	// Event publish metrics
	EventsPublished    *prometheus.CounterVec
	EventPublishErrors *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WorkflowsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Total number of finished workflows by outcome",
		}, []string{"workflow", "status"}),
		WorkflowDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Wall time of a workflow from dequeue to terminal status",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"workflow"}),
		StageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of workflow failures by stage",
		}, []string{"stage"}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker",
		}),
		QueueRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejected_total",
			Help:      "Jobs rejected because the queue was full",
		}),

		RecordingsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recordings_active",
			Help:      "1 while a live recording is capturing",
		}),
		CapturedSeconds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captured_audio_seconds_total",
			Help:      "Seconds of audio captured per track",
		}),
		CaptureInterrupted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_interrupted_total",
			Help:      "Recordings ended early by a stream read error",
		}),

		EngineLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_latency_seconds",
			Help:      "Transcription and diarization latency per artifact",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"engine"}),
		EngineErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Transcription and diarization failures",
		}, []string{"engine"}),

		UtterancesStored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_stored_total",
			Help:      "Utterances persisted by track type",
		}, []string{"track"}),
		UnknownAttributed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_unknown_speaker_total",
			Help:      "Utterances that matched no diarization turn",
		}, []string{"track"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Meeting status events published",
		}, []string{"topic", "status"}),
		EventPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Meeting status events that failed to publish",
		}, []string{"topic"}),
	}
}

// RecordWorkflow records a finished workflow.
func (m *Metrics) RecordWorkflow(workflow, status, failedStage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowsTotal.WithLabelValues(workflow, status).Inc()
	m.WorkflowDuration.WithLabelValues(workflow).Observe(elapsed.Seconds())
	if failedStage != "" {
		m.StageFailures.WithLabelValues(failedStage).Inc()
	}
}

// SetQueueDepth records the number of queued jobs.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordQueueRejected counts a job refused for lack of queue space.
func (m *Metrics) RecordQueueRejected() {
	if m == nil {
		return
	}
	m.QueueRejected.Inc()
}

// SetRecording flips the active recording gauge.
func (m *Metrics) SetRecording(active bool) {
	if m == nil {
		return
	}
	if active {
		m.RecordingsActive.Set(1)
	} else {
		m.RecordingsActive.Set(0)
	}
}

// RecordCapture records the result of one recording.
func (m *Metrics) RecordCapture(captured time.Duration, interrupted bool) {
	if m == nil {
		return
	}
	m.CapturedSeconds.Add(captured.Seconds())
	if interrupted {
		m.CaptureInterrupted.Inc()
	}
}

// RecordEngine records one transcription or diarization call.
func (m *Metrics) RecordEngine(engine string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.EngineLatency.WithLabelValues(engine).Observe(elapsed.Seconds())
	if err != nil {
		m.EngineErrors.WithLabelValues(engine).Inc()
	}
}

// RecordUtterances records attributed utterances of one track.
func (m *Metrics) RecordUtterances(track string, total, unknown int) {
	if m == nil {
		return
	}
	m.UtterancesStored.WithLabelValues(track).Add(float64(total))
	m.UnknownAttributed.WithLabelValues(track).Add(float64(unknown))
}

// RecordPublish records one event publish attempt.
func (m *Metrics) RecordPublish(topic, status string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.EventPublishErrors.WithLabelValues(topic).Inc()
		return
	}
	m.EventsPublished.WithLabelValues(topic, status).Inc()
}
