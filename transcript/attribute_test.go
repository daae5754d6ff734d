package transcript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttribute_DropsEmptySegments(t *testing.T) {
	segments := []Segment{
		{Start: 0.0, End: 1.0, Text: "hi"},
		{Start: 1.0, End: 2.0, Text: ""},
	}
	turns := []Turn{{Start: 0.0, End: 1.5, Speaker: "A"}}

	got := Attribute(segments, turns, "en", "")

	require.Len(t, got, 1)
	assert.Equal(t, Utterance{Speaker: "A", Start: 0.0, End: 1.0, Text: "hi", Language: "en"}, got[0])
}

func TestAttribute_NoTurnsIsUnknown(t *testing.T) {
	got := Attribute([]Segment{{Start: 5.0, End: 6.0, Text: "hello"}}, nil, "en", "")

	require.Len(t, got, 1)
	assert.Equal(t, Unknown, got[0].Speaker)
	assert.Equal(t, "hello", got[0].Text)
}

func TestAttribute_Prefix(t *testing.T) {
	segments := []Segment{
		{Start: 0.2, End: 0.8, Text: " first "},
		{Start: 10, End: 11, Text: "nobody"},
	}
	turns := []Turn{{Start: 0, End: 1, Speaker: "SPEAKER_00"}}

	got := Attribute(segments, turns, "de", PrefixRemote)

	require.Len(t, got, 2)
	assert.Equal(t, "REMOTE_SPEAKER_00", got[0].Speaker)
	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, "REMOTE_UNKNOWN", got[1].Speaker)
	assert.Equal(t, "de", got[1].Language)
}

func TestAttribute_Matching(t *testing.T) {
	tests := []struct {
		name  string
		seg   Segment
		turns []Turn
		want  string
	}{
		{
			name:  "contained",
			seg:   Segment{Start: 1.2, End: 1.8, Text: "x"},
			turns: []Turn{{Start: 1, End: 2, Speaker: "A"}},
			want:  "A",
		},
		{
			name:  "start inside only",
			seg:   Segment{Start: 1.5, End: 3, Text: "x"},
			turns: []Turn{{Start: 1, End: 2, Speaker: "A"}},
			want:  "A",
		},
		{
			name:  "end inside only",
			seg:   Segment{Start: 0.5, End: 1.5, Text: "x"},
			turns: []Turn{{Start: 1, End: 2, Speaker: "A"}},
			want:  "A",
		},
		{
			name:  "inclusive boundary",
			seg:   Segment{Start: 2, End: 3, Text: "x"},
			turns: []Turn{{Start: 1, End: 2, Speaker: "A"}},
			want:  "A",
		},
		{
			name:  "segment spanning a turn does not match",
			seg:   Segment{Start: 0, End: 5, Text: "x"},
			turns: []Turn{{Start: 1, End: 2, Speaker: "A"}},
			want:  Unknown,
		},
		{
			name: "first match wins over better overlap",
			seg:  Segment{Start: 1.9, End: 3, Text: "x"},
			turns: []Turn{
				{Start: 1, End: 2, Speaker: "A"},
				{Start: 1.9, End: 3, Speaker: "B"},
			},
			want: "A",
		},
		{
			name: "producer order is kept, not sorted",
			seg:  Segment{Start: 4, End: 5, Text: "x"},
			turns: []Turn{
				{Start: 4.5, End: 6, Speaker: "LATE"},
				{Start: 3, End: 4.2, Speaker: "EARLY"},
			},
			want: "LATE",
		},
		{
			name:  "malformed segment matches nothing",
			seg:   Segment{Start: 9, End: 8, Text: "x"},
			turns: []Turn{{Start: 0, End: 1, Speaker: "A"}},
			want:  Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Attribute([]Segment{tt.seg}, tt.turns, "en", "")
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Speaker)
		})
	}
}

func TestAttribute_PreservesSegmentOrder(t *testing.T) {
	segments := []Segment{
		{Start: 9, End: 10, Text: "c"},
		{Start: 1, End: 2, Text: "a"},
		{Start: 5, End: 6, Text: "   "},
		{Start: 4, End: 5, Text: "b"},
	}
	turns := []Turn{{Start: 0, End: 20, Speaker: "A"}}

	got := Attribute(segments, turns, "en", "")

	require.Len(t, got, 3)
	var texts []string
	for _, u := range got {
		texts = append(texts, u.Text)
	}
	assert.Equal(t, []string{"c", "a", "b"}, texts)
}

func TestAttribute_LengthEqualsNonEmptySegments(t *testing.T) {
	texts := []string{"a", "", " ", "b", "\t\n", "c", "d"}
	var segments []Segment
	want := 0
	for i, text := range texts {
		segments = append(segments, Segment{Start: float64(i), End: float64(i) + 0.5, Text: text})
		if strings.TrimSpace(text) != "" {
			want++
		}
	}

	assert.Len(t, Attribute(segments, nil, "en", ""), want)
	assert.Len(t, Label(segments, "en", PrefixUser), want)
}

func TestAttributeWith_Overlap(t *testing.T) {
	seg := Segment{Start: 0, End: 5, Text: "spans"}
	turns := []Turn{{Start: 1, End: 2, Speaker: "A"}}

	got := AttributeWith(OverlapMatch, []Segment{seg}, turns, "en", PrefixFile)

	require.Len(t, got, 1)
	assert.Equal(t, "FILE_A", got[0].Speaker)
}

func TestOverlapMatch_Malformed(t *testing.T) {
	assert.False(t, OverlapMatch(Segment{Start: 3, End: 1}, Turn{Start: 0, End: 5}))
	assert.False(t, OverlapMatch(Segment{Start: 1, End: 2}, Turn{Start: 5, End: 0}))
}

func TestMatcherByName(t *testing.T) {
	for _, name := range []string{"", "endpoint", "OVERLAP"} {
		m, err := MatcherByName(name)
		require.NoError(t, err, name)
		require.NotNil(t, m)
	}

	_, err := MatcherByName("max-overlap")
	assert.Error(t, err)
}

func TestLabel(t *testing.T) {
	segments := []Segment{
		{Start: 0, End: 1, Text: "hello"},
		{Start: 1, End: 2, Text: ""},
		{Start: 2, End: 3, Text: " there"},
	}

	got := Label(segments, "en", PrefixUser)

	require.Len(t, got, 2)
	for _, u := range got {
		assert.Equal(t, "USER", u.Speaker)
	}
	assert.Equal(t, "there", got[1].Text)
}
