package feedback

import (
	"sort"

	"pubflow/api/internal/store"
)

// Span is a half-open rune range [Start, End). An empty span is an
// insertion point.
type Span struct {
	Start int
	End   int
}

func (s Span) empty() bool { return s.End <= s.Start }

// Overlap reports whether two edits claim the same characters. Non-empty
// spans are compared as the closed intervals [Start, End-1], so edits that
// only touch do not overlap. An insertion overlaps a non-empty span only when
// it falls strictly inside it, and another insertion only at the same point.
func Overlap(a, b Span) bool {
	switch {
	case a.empty() && b.empty():
		return a.Start == b.Start
	case a.empty():
		return b.Start < a.Start && a.Start < b.End
	case b.empty():
		return a.Start < b.Start && b.Start < a.End
	}
	return !(a.End-1 < b.Start || b.End-1 < a.Start)
}

func spanOf(item store.FeedbackItem) Span {
	return Span{Start: item.Start, End: item.End}
}

func lessLocation(a, b store.Location) bool {
	if a.Page != b.Page {
		return a.Page < b.Page
	}
	if a.Paragraph != b.Paragraph {
		return a.Paragraph < b.Paragraph
	}
	return a.Line < b.Line
}

// SortItems orders items top to bottom, breaking ties by offset and id.
func SortItems(items []store.FeedbackItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Location != b.Location {
			return lessLocation(a.Location, b.Location)
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.ID < b.ID
	})
}

// ConflictGroups returns the connected components of the overlap relation
// that hold more than one item, plus the symmetric pairwise relation.
func ConflictGroups(items []store.FeedbackItem) ([][]string, map[string][]string) {
	parent := make([]int, len(items))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	pairs := make(map[string][]string)
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			if !Overlap(spanOf(items[i]), spanOf(items[j])) {
				continue
			}
			a, b := items[i].ID, items[j].ID
			pairs[a] = append(pairs[a], b)
			pairs[b] = append(pairs[b], a)
			if ri, rj := find(i), find(j); ri != rj {
				parent[rj] = ri
			}
		}
	}

	byRoot := make(map[int][]string)
	order := make([]int, 0)
	for i := range items {
		root := find(i)
		if _, seen := byRoot[root]; !seen {
			order = append(order, root)
		}
		byRoot[root] = append(byRoot[root], items[i].ID)
	}
	groups := make([][]string, 0)
	for _, root := range order {
		if len(byRoot[root]) > 1 {
			groups = append(groups, byRoot[root])
		}
	}
	for id := range pairs {
		sort.Strings(pairs[id])
	}
	return groups, pairs
}
