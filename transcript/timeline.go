package transcript

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Merge joins per-track utterances into a single timeline ordered by start
// time. Utterances with equal start keep their relative input order.
func Merge(tracks ...[]Utterance) []Utterance {
	var n int
	for _, t := range tracks {
		n += len(t)
	}
	merged := make([]Utterance, 0, n)
	for _, t := range tracks {
		merged = append(merged, t...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start < merged[j].Start
	})
	return merged
}

// Markdown renders a timeline with one timestamped line per utterance.
func Markdown(title string, utterances []Utterance) string {
	var b strings.Builder
	if title == "" {
		title = "Meeting Transcript"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	for _, u := range utterances {
		fmt.Fprintf(&b, "[%s-%s] %s: %s\n\n", timestamp(u.Start), timestamp(u.End), u.Speaker, u.Text)
	}
	return b.String()
}

func timestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	d := time.Duration(sec*1000) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
