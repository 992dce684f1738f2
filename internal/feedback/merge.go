// Package feedback merges reviewer suggestions into document content and
// compares document versions.
package feedback

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"pubflow/api/internal/store"
)

type Strategy string

const (
	// StrategyAuto applies everything that does not conflict.
	StrategyAuto Strategy = "AUTO"
	// StrategyStrict applies nothing while any conflict is unresolved.
	StrategyStrict Strategy = "STRICT"
)

const (
	ConflictOverlap = "OVERLAP"
	ConflictStale   = "STALE"
)

var (
	ErrUnknownStrategy   = errors.New("feedback: unknown merge strategy")
	ErrInvalidResolution = errors.New("feedback: invalid resolution")
)

func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", StrategyAuto:
		return StrategyAuto, nil
	case StrategyStrict:
		return StrategyStrict, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, raw)
	}
}

// Resolution replaces one whole conflict group with resolved text.
type Resolution struct {
	FeedbackIDs  []string `json:"feedbackIds"`
	ResolvedText string   `json:"resolvedText"`
}

type Conflict struct {
	Kind        string      `json:"kind"`
	FeedbackIDs []string    `json:"feedbackIds"`
	Pairs       [][2]string `json:"pairs,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

type Input struct {
	Base        store.DocumentVersion
	Items       []store.FeedbackItem
	Stale       []string
	Strategy    Strategy
	Resolutions []Resolution
}

type Result struct {
	Content       string
	Changes       []store.AppliedChange
	PositionMap   store.PositionMap
	Applied       []string
	Conflicts     []Conflict
	ConflictsWith map[string][]string
}

func (r Result) Changed() bool {
	return len(r.Changes) > 0
}

type edit struct {
	ids      []string
	location store.Location
	start    int
	end      int
	original string
	text     string
}

// Merge applies the selected items, whose spans must already be expressed in
// Base offsets, in reading order. It never mutates its input.
func Merge(in Input) (Result, error) {
	items := slices.Clone(in.Items)
	SortItems(items)

	result := Result{Content: in.Base.Content, ConflictsWith: map[string][]string{}}
	for _, id := range in.Stale {
		result.Conflicts = append(result.Conflicts, Conflict{Kind: ConflictStale, FeedbackIDs: []string{id}, Reason: "target text was rewritten by a later version"})
	}

	live := items[:0:0]
	for _, item := range items {
		current, ok := Slice(in.Base.Content, item.Start, item.End)
		if !ok || current != item.OriginalText {
			result.Conflicts = append(result.Conflicts, Conflict{Kind: ConflictStale, FeedbackIDs: []string{item.ID}, Reason: "original text no longer matches the document"})
			continue
		}
		live = append(live, item)
	}

	groups, pairs := ConflictGroups(live)
	resolved, err := matchResolutions(groups, in.Resolutions)
	if err != nil {
		return Result{}, err
	}

	grouped := make(map[string]int, len(live))
	for gi, group := range groups {
		for _, id := range group {
			grouped[id] = gi
		}
	}

	byID := make(map[string]store.FeedbackItem, len(live))
	for _, item := range live {
		byID[item.ID] = item
	}

	edits := make([]edit, 0, len(live))
	for _, item := range live {
		if _, inGroup := grouped[item.ID]; inGroup {
			continue
		}
		edits = append(edits, edit{
			ids:      []string{item.ID},
			location: item.Location,
			start:    item.Start,
			end:      item.End,
			original: item.OriginalText,
			text:     item.SuggestedText,
		})
	}
	for gi, group := range groups {
		text, ok := resolved[gi]
		if !ok {
			result.Conflicts = append(result.Conflicts, Conflict{Kind: ConflictOverlap, FeedbackIDs: group, Pairs: groupPairs(group, pairs)})
			for _, id := range group {
				result.ConflictsWith[id] = pairs[id]
			}
			continue
		}
		first := byID[group[0]]
		e := edit{ids: group, location: first.Location, start: first.Start, end: first.End}
		for _, id := range group[1:] {
			e.start = min(e.start, byID[id].Start)
			e.end = max(e.end, byID[id].End)
		}
		e.original, _ = Slice(in.Base.Content, e.start, e.end)
		e.text = text
		edits = append(edits, e)
	}

	if in.Strategy == StrategyStrict && len(result.Conflicts) > 0 {
		return result, nil
	}

	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].location != edits[j].location {
			return lessLocation(edits[i].location, edits[j].location)
		}
		return edits[i].start < edits[j].start
	})

	runes := []rune(in.Base.Content)
	anchors := make([]Span, len(edits))
	for i, e := range edits {
		anchors[i] = Span{Start: e.start, End: e.end}
	}
	shifts := make([]store.PositionShift, 0, len(edits))
	for i, e := range edits {
		cur := anchors[i]
		runes = replace(runes, cur.Start, cur.End, e.text)
		delta := len([]rune(e.text)) - (e.end - e.start)
		for j := i + 1; j < len(anchors); j++ {
			if anchors[j].Start >= cur.End {
				anchors[j].Start += delta
				anchors[j].End += delta
			}
		}
		result.Changes = append(result.Changes, store.AppliedChange{
			FeedbackIDs:    e.ids,
			Location:       e.location,
			Start:          e.start,
			End:            e.end,
			AppliedStart:   cur.Start,
			OriginalText:   e.original,
			NewText:        e.text,
			CharacterDelta: delta,
		})
		shifts = append(shifts, store.PositionShift{Start: e.start, End: e.end, Delta: delta})
		result.Applied = append(result.Applied, e.ids...)
	}
	sort.Slice(shifts, func(i, j int) bool { return shifts[i].Start < shifts[j].Start })

	result.Content = string(runes)
	result.PositionMap = store.PositionMap{FromVersion: in.Base.VersionNumber, Shifts: shifts}
	return result, nil
}

func matchResolutions(groups [][]string, resolutions []Resolution) (map[int]string, error) {
	out := make(map[int]string, len(resolutions))
	for _, res := range resolutions {
		want := slices.Clone(res.FeedbackIDs)
		sort.Strings(want)
		matched := -1
		for gi, group := range groups {
			have := slices.Clone(group)
			sort.Strings(have)
			if slices.Equal(want, have) {
				matched = gi
				break
			}
		}
		if matched < 0 {
			return nil, fmt.Errorf("%w: %v is not exactly one conflict group", ErrInvalidResolution, res.FeedbackIDs)
		}
		if _, dup := out[matched]; dup {
			return nil, fmt.Errorf("%w: group %v resolved twice", ErrInvalidResolution, res.FeedbackIDs)
		}
		out[matched] = res.ResolvedText
	}
	return out, nil
}

func groupPairs(group []string, pairs map[string][]string) [][2]string {
	out := make([][2]string, 0)
	for _, a := range group {
		for _, b := range pairs[a] {
			if a < b {
				out = append(out, [2]string{a, b})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}
