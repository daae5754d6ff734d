package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordWorkflow(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordWorkflow("upload", "completed", "", 3*time.Second)
	m.RecordWorkflow("live", "failed", "diarize", time.Second)
	m.RecordWorkflow("live", "failed", "diarize", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowsTotal.WithLabelValues("upload", "completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WorkflowsTotal.WithLabelValues("live", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StageFailures.WithLabelValues("diarize")))
}

func TestMetrics_Capture(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetRecording(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingsActive))
	m.SetRecording(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RecordingsActive))

	m.RecordCapture(1500*time.Millisecond, true)
	assert.Equal(t, 1.5, testutil.ToFloat64(m.CapturedSeconds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaptureInterrupted))
}

func TestMetrics_PublishAndUtterances(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordPublish("meetings", "completed", nil)
	m.RecordPublish("meetings", "completed", errors.New("broker down"))
	m.RecordUtterances("remote", 5, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("meetings", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventPublishErrors.WithLabelValues("meetings")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.UtterancesStored.WithLabelValues("remote")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UnknownAttributed.WithLabelValues("remote")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordWorkflow("live", "completed", "", time.Second)
		m.SetQueueDepth(3)
		m.RecordQueueRejected()
		m.SetRecording(true)
		m.RecordCapture(time.Second, false)
		m.RecordEngine("whisper", nil, time.Second)
		m.RecordUtterances("user", 1, 0)
		m.RecordPublish("t", "failed", nil)
	})
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
