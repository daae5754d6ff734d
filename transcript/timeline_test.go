package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_SortsAcrossTracks(t *testing.T) {
	user := []Utterance{
		{Speaker: "USER", Start: 0, Text: "u1"},
		{Speaker: "USER", Start: 4, Text: "u2"},
	}
	remote := []Utterance{
		{Speaker: "REMOTE_A", Start: 2, Text: "r1"},
		{Speaker: "REMOTE_B", Start: 4, Text: "r2"},
	}

	got := Merge(user, remote)

	require.Len(t, got, 4)
	var texts []string
	for _, u := range got {
		texts = append(texts, u.Text)
	}
	assert.Equal(t, []string{"u1", "r1", "u2", "r2"}, texts)
}

func TestMerge_Empty(t *testing.T) {
	assert.Empty(t, Merge())
	assert.Empty(t, Merge(nil, nil))
}

func TestMarkdown(t *testing.T) {
	md := Markdown("", []Utterance{
		{Speaker: "USER", Start: 1.2, End: 65.9, Text: "hello"},
		{Speaker: "REMOTE_A", Start: 3725, End: 3726, Text: "late"},
	})

	assert.Contains(t, md, "# Meeting Transcript")
	assert.Contains(t, md, "[00:01-01:05] USER: hello")
	assert.Contains(t, md, "[01:02:05-01:02:06] REMOTE_A: late")
}
