package transcript

import (
	"fmt"
	"strings"
)

// Matcher reports whether a segment belongs to a turn.
type Matcher func(seg Segment, turn Turn) bool

// EndpointMatch matches when either end of the segment falls inside the turn,
// bounds inclusive. A segment that starts before and ends after a turn does
// not match.
func EndpointMatch(seg Segment, turn Turn) bool {
	return (turn.Start <= seg.Start && seg.Start <= turn.End) ||
		(turn.Start <= seg.End && seg.End <= turn.End)
}

// OverlapMatch matches when the two closed intervals intersect at all.
func OverlapMatch(seg Segment, turn Turn) bool {
	if seg.Start > seg.End || turn.Start > turn.End {
		return false
	}
	return seg.Start <= turn.End && turn.Start <= seg.End
}

// MatcherByName resolves a configured match rule.
func MatcherByName(name string) (Matcher, error) {
	switch strings.ToLower(name) {
	case "", "endpoint":
		return EndpointMatch, nil
	case "overlap":
		return OverlapMatch, nil
	default:
		return nil, fmt.Errorf("unknown attribution match rule %q", name)
	}
}

// Attribute labels segments with the speaker of the first matching turn using
// EndpointMatch.
func Attribute(segments []Segment, turns []Turn, language, prefix string) []Utterance {
	return AttributeWith(EndpointMatch, segments, turns, language, prefix)
}

// AttributeWith labels every non-empty segment with prefix plus the speaker of
// the first turn, in the given turn order, accepted by match. Segments nothing
// matches get the Unknown label. Output order follows segment order.
func AttributeWith(match Matcher, segments []Segment, turns []Turn, language, prefix string) []Utterance {
	out := make([]Utterance, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}

		label := Unknown
		for _, turn := range turns {
			if match(seg, turn) {
				label = turn.Speaker
				break
			}
		}

		out = append(out, Utterance{
			Speaker:  prefix + label,
			Start:    seg.Start,
			End:      seg.End,
			Text:     text,
			Language: language,
		})
	}
	return out
}

// Label assigns one fixed speaker to every non-empty segment. Used for the
// microphone track where a single speaker is assumed.
func Label(segments []Segment, language, speaker string) []Utterance {
	out := make([]Utterance, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		out = append(out, Utterance{
			Speaker:  speaker,
			Start:    seg.Start,
			End:      seg.End,
			Text:     text,
			Language: language,
		})
	}
	return out
}
