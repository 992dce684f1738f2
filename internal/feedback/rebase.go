package feedback

import "pubflow/api/internal/store"

// MapSpan carries a span through one version's position map. ok is false
// when an edit in that version rewrote part of the span. Edits ending at or
// before start shift it; edits that only touch it leave it intact.
func MapSpan(pm store.PositionMap, start, end int) (int, int, bool) {
	delta := 0
	for _, shift := range pm.Shifts {
		if Overlap(Span{Start: shift.Start, End: shift.End}, Span{Start: start, End: end}) {
			return 0, 0, false
		}
		if shift.End <= start {
			delta += shift.Delta
		}
	}
	return start + delta, end + delta, true
}

// Rebase maps item forward through every later version. It returns false
// when the item's target was rewritten along the way.
func Rebase(item store.FeedbackItem, later []store.DocumentVersion) (store.FeedbackItem, bool) {
	for _, version := range later {
		if version.VersionNumber <= item.VersionNumber {
			continue
		}
		start, end, ok := MapSpan(version.PositionMap, item.Start, item.End)
		if !ok {
			return item, false
		}
		item.Start, item.End = start, end
		item.VersionNumber = version.VersionNumber
		item.Location = LocationAt(version.Content, start)
	}
	return item, true
}
