package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/listener/audio"
	"github.com/bosley/listener/transcript"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "listener.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_MeetingLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m, err := s.CreateMeeting(ctx, StatusProcessing)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, m.ID)

	track, err := s.CreateTrack(ctx, m.ID, audio.RoleUploaded, "/tmp/upload.wav", 12.5)
	require.NoError(t, err)

	n, err := s.Complete(ctx, m.ID, TrackUtterances{
		TrackID: track.ID,
		Utterances: []transcript.Utterance{
			{Speaker: "FILE_SPEAKER_00", Start: 0, End: 2, Text: " hello ", Language: "en"},
			{Speaker: "FILE_SPEAKER_01", Start: 2, End: 4, Text: "hi", Language: "en"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.Len(t, got.Tracks, 1)
	assert.Equal(t, audio.RoleUploaded, got.Tracks[0].TrackType)
	assert.Equal(t, 12.5, got.Tracks[0].DurationSec)

	utts, err := s.Utterances(ctx, m.ID, nil)
	require.NoError(t, err)
	require.Len(t, utts, 2)
	assert.Equal(t, "hello", utts[0].Text)
	assert.Equal(t, "FILE_SPEAKER_00", utts[0].SpeakerID)
	require.NotNil(t, utts[0].TrackID)
	assert.Equal(t, track.ID, *utts[0].TrackID)
}

func TestStore_TerminalStatusIsFinal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m, err := s.CreateMeeting(ctx, StatusRecording)
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, m.ID, "transcribe: model missing"))

	assert.ErrorIs(t, s.SetStatus(ctx, m.ID, StatusCompleted), ErrTerminalStatus)
	assert.ErrorIs(t, s.Fail(ctx, m.ID, "again"), ErrTerminalStatus)

	_, err = s.Complete(ctx, m.ID, TrackUtterances{
		TrackID:    uuid.New(),
		Utterances: []transcript.Utterance{{Speaker: "USER", Text: "late"}},
	})
	assert.ErrorIs(t, err, ErrTerminalStatus)

	got, err := s.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "transcribe: model missing", got.ErrorDetail)

	utts, err := s.Utterances(ctx, m.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, utts)
}

func TestStore_NoBackwardTransition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m, err := s.CreateMeeting(ctx, StatusProcessing)
	require.NoError(t, err)
	assert.Error(t, s.SetStatus(ctx, m.ID, StatusRecording))

	_, err = s.CreateMeeting(ctx, StatusCompleted)
	assert.Error(t, err)
}

func TestStore_CompleteWithNoUtterances(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m, err := s.CreateMeeting(ctx, StatusRecording)
	require.NoError(t, err)

	n, err := s.Complete(ctx, m.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestStore_UtterancesOrderedByStart(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m, err := s.CreateMeeting(ctx, StatusRecording)
	require.NoError(t, err)
	user, err := s.CreateTrack(ctx, m.ID, audio.RoleUser, "user.wav", 0)
	require.NoError(t, err)
	remote, err := s.CreateTrack(ctx, m.ID, audio.RoleRemote, "remote.wav", 0)
	require.NoError(t, err)

	_, err = s.Complete(ctx, m.ID,
		TrackUtterances{TrackID: user.ID, Utterances: []transcript.Utterance{
			{Speaker: "USER", Start: 1, End: 2, Text: "first"},
			{Speaker: "USER", Start: 5, End: 6, Text: "third"},
		}},
		TrackUtterances{TrackID: remote.ID, Utterances: []transcript.Utterance{
			{Speaker: "REMOTE_A", Start: 3, End: 4, Text: "second"},
			{Speaker: "REMOTE_B", Start: 5, End: 6, Text: "fourth"},
		}},
	)
	require.NoError(t, err)

	all, err := s.Utterances(ctx, m.ID, nil)
	require.NoError(t, err)
	var texts []string
	for _, u := range all {
		texts = append(texts, u.Text)
	}
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, texts)

	onlyRemote, err := s.Utterances(ctx, m.ID, &remote.ID)
	require.NoError(t, err)
	require.Len(t, onlyRemote, 2)
	assert.Equal(t, "REMOTE_A", onlyRemote[0].SpeakerID)
	assert.Equal(t, "REMOTE_B", onlyRemote[1].Transcript().Speaker)
}

func TestStore_DeleteMeetingCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m, err := s.CreateMeeting(ctx, StatusProcessing)
	require.NoError(t, err)
	track, err := s.CreateTrack(ctx, m.ID, audio.RoleUploaded, "f.wav", 0)
	require.NoError(t, err)
	_, err = s.Complete(ctx, m.ID, TrackUtterances{TrackID: track.ID, Utterances: []transcript.Utterance{
		{Speaker: "FILE_UNKNOWN", Text: "x"},
	}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteMeeting(ctx, m.ID))

	_, err = s.GetMeeting(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	utts, err := s.Utterances(ctx, m.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, utts)

	assert.ErrorIs(t, s.DeleteMeeting(ctx, m.ID), ErrNotFound)
}

func TestStore_DeleteTrackKeepsUtterances(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m, err := s.CreateMeeting(ctx, StatusRecording)
	require.NoError(t, err)
	track, err := s.CreateTrack(ctx, m.ID, audio.RoleRemote, "r.wav", 0)
	require.NoError(t, err)
	_, err = s.Complete(ctx, m.ID, TrackUtterances{TrackID: track.ID, Utterances: []transcript.Utterance{
		{Speaker: "REMOTE_UNKNOWN", Text: "orphan"},
	}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteTrack(ctx, track.ID))

	utts, err := s.Utterances(ctx, m.ID, nil)
	require.NoError(t, err)
	require.Len(t, utts, 1)
	assert.Nil(t, utts[0].TrackID)
}

func TestStore_MissingMeeting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetMeeting(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetStatus(ctx, uuid.New(), StatusCompleted), ErrNotFound)

	_, err = s.CreateTrack(ctx, uuid.New(), audio.RoleUser, "u.wav", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListMeetings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.CreateMeeting(ctx, StatusProcessing)
		require.NoError(t, err)
	}

	all, err := s.ListMeetings(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	two, err := s.ListMeetings(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	assert.Error(t, err)
}
