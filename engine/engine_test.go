package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/listener/transcript"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remote_1.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF...."), 0o644))
	return path
}

func TestWhisperHTTP_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "small", r.FormValue("model"))
		assert.Empty(t, r.FormValue("language"))

		f, hdr, err := r.FormFile("audio")
		if assert.NoError(t, err) {
			defer f.Close()
			assert.Equal(t, "remote_1.wav", hdr.Filename)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"text":     "hi there",
			"language": "de",
			"segments": []map[string]any{
				{"start": 0.0, "end": 1.5, "text": " hi"},
				{"start": 1.5, "end": 2.0, "text": " there"},
			},
		})
	}))
	defer srv.Close()

	w := NewWhisperHTTP(WhisperConfig{URL: srv.URL + "/", Model: "small"})
	got, err := w.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)

	assert.Equal(t, "de", got.Language)
	assert.Equal(t, []transcript.Segment{
		{Start: 0, End: 1.5, Text: " hi"},
		{Start: 1.5, End: 2.0, Text: " there"},
	}, got.Segments)
}

func TestWhisperHTTP_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewWhisperHTTP(WhisperConfig{URL: srv.URL}).Transcribe(context.Background(), writeAudio(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "model exploded")
}

func TestWhisperHTTP_MissingFile(t *testing.T) {
	_, err := NewWhisperHTTP(WhisperConfig{URL: "http://127.0.0.1:1"}).
		Transcribe(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	assert.Error(t, err)
}

func TestPyannote_DiarizePreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/diarize", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "2", r.FormValue("num_speakers"))

		json.NewEncoder(w).Encode(map[string]any{
			"num_speakers": 2,
			"segments": []map[string]any{
				{"speaker_id": "SPEAKER_01", "start_time": 5.0, "end_time": 9.0},
				{"speaker_id": "SPEAKER_00", "start_time": 0.0, "end_time": 5.0},
			},
		})
	}))
	defer srv.Close()

	p := NewPyannote(PyannoteConfig{URL: srv.URL, NumSpeakers: 2})
	turns, err := p.Diarize(context.Background(), writeAudio(t))
	require.NoError(t, err)

	assert.Equal(t, []transcript.Turn{
		{Start: 5, End: 9, Speaker: "SPEAKER_01"},
		{Start: 0, End: 5, Speaker: "SPEAKER_00"},
	}, turns)
}

func TestPyannote_ErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"error": "pipeline not loaded"})
	}))
	defer srv.Close()

	_, err := NewPyannote(PyannoteConfig{URL: srv.URL}).Diarize(context.Background(), writeAudio(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline not loaded")
}

func TestParseWhisperCPP(t *testing.T) {
	data := []byte(`{
		"result": {"language": "en"},
		"transcription": [
			{"offsets": {"from": 0, "to": 1200}, "text": " Hello"},
			{"offsets": {"from": 1200, "to": 3000}, "text": " [BLANK_AUDIO]"},
			{"offsets": {"from": 3000, "to": 4500}, "text": " world"}
		]
	}`)

	got, err := parseWhisperCPP(data)
	require.NoError(t, err)

	assert.Equal(t, "en", got.Language)
	assert.Equal(t, []transcript.Segment{
		{Start: 0, End: 1.2, Text: " Hello"},
		{Start: 3, End: 4.5, Text: " world"},
	}, got.Segments)

	_, err = parseWhisperCPP([]byte("not json"))
	assert.Error(t, err)
}

func TestWhisperCLI_CheckMissingBinary(t *testing.T) {
	w := NewWhisperCLI(WhisperCLIConfig{Path: "definitely-not-a-whisper-binary"})
	assert.Error(t, w.Check(context.Background()))
}

type countingTranscriber struct {
	checks    atomic.Int32
	calls     atomic.Int32
	checkErr  error
	failFirst int32 // checks that fail before the backend comes up
}

func (c *countingTranscriber) Check(context.Context) error {
	if c.checks.Add(1) <= c.failFirst {
		return errors.New("sidecar still starting")
	}
	return c.checkErr
}

func (c *countingTranscriber) Transcribe(context.Context, string) (*Transcription, error) {
	c.calls.Add(1)
	return &Transcription{}, nil
}

func TestLazyTranscriber_ChecksOnce(t *testing.T) {
	inner := &countingTranscriber{}
	l := NewLazyTranscriber("fake", inner)

	assert.Equal(t, int32(0), inner.checks.Load())
	for i := 0; i < 3; i++ {
		_, err := l.Transcribe(context.Background(), "x.wav")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), inner.checks.Load())
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestLazyTranscriber_RetriesAfterFailure(t *testing.T) {
	inner := &countingTranscriber{failFirst: 1}
	l := NewLazyTranscriber("fake", inner)

	_, err := l.Transcribe(context.Background(), "x.wav")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(0), inner.calls.Load())

	for i := 0; i < 2; i++ {
		_, err = l.Transcribe(context.Background(), "x.wav")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), inner.checks.Load())
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestLazyTranscriber_PersistentFailure(t *testing.T) {
	inner := &countingTranscriber{checkErr: errors.New("no model")}
	l := NewLazyTranscriber("fake", inner)

	for i := 0; i < 3; i++ {
		_, err := l.Transcribe(context.Background(), "x.wav")
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, int32(3), inner.checks.Load())
	assert.Equal(t, int32(0), inner.calls.Load())
}

func TestLazyDiarizer_HealthCheck(t *testing.T) {
	var health atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			health.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		t.Errorf("unexpected request to %s", r.URL.Path)
	}))
	defer srv.Close()

	d, err := NewDiarizer(Config{DiarizerURL: srv.URL})
	require.NoError(t, err)

	_, err = d.Diarize(context.Background(), writeAudio(t))
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = d.Diarize(context.Background(), writeAudio(t))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), health.Load())
}

func TestFactory_UnknownBackends(t *testing.T) {
	_, err := NewTranscriber(Config{Transcriber: "vosk"})
	assert.Error(t, err)
	_, err = NewDiarizer(Config{Diarizer: "nemo"})
	assert.Error(t, err)

	tr, err := NewTranscriber(Config{Transcriber: "Whisper-CLI"})
	require.NoError(t, err)
	assert.NotNil(t, tr)
}

func TestLanguageOrDefault(t *testing.T) {
	assert.Equal(t, "en", (*Transcription)(nil).LanguageOrDefault())
	assert.Equal(t, "en", (&Transcription{Language: " "}).LanguageOrDefault())
	assert.Equal(t, "fr", (&Transcription{Language: "fr"}).LanguageOrDefault())
}
