package feedback

import "pubflow/api/internal/store"

// Paragraph is a non-empty block of text. Pages are separated by a form
// feed, paragraphs by one or more blank lines. Offsets are rune offsets.
type Paragraph struct {
	Page  int
	Index int
	Start int
	End   int
	Text  string
}

func Paragraphs(content string) []Paragraph {
	runes := []rune(content)
	out := make([]Paragraph, 0)
	page, index := 1, 0
	start := 0

	flush := func(end int) {
		if end <= start {
			return
		}
		index++
		out = append(out, Paragraph{Page: page, Index: index, Start: start, End: end, Text: string(runes[start:end])})
	}

	for i := 0; i < len(runes); i++ {
		switch {
		case runes[i] == '\f':
			flush(i)
			page++
			index = 0
			start = i + 1
		case runes[i] == '\n' && i+1 < len(runes) && runes[i+1] == '\n':
			flush(i)
			j := i
			for j < len(runes) && runes[j] == '\n' {
				j++
			}
			start = j
			i = j - 1
		}
	}
	flush(len(runes))
	return out
}

// LocationAt maps a rune offset to its page, paragraph and line. Offsets in
// a separator belong to the preceding paragraph.
func LocationAt(content string, offset int) store.Location {
	paragraphs := Paragraphs(content)
	if len(paragraphs) == 0 {
		return store.Location{Page: 1, Paragraph: 1, Line: 1}
	}
	chosen := paragraphs[0]
	for _, p := range paragraphs {
		if p.Start > offset {
			break
		}
		chosen = p
	}
	line := 1
	runes := []rune(chosen.Text)
	limit := min(offset-chosen.Start, len(runes))
	for i := 0; i < limit; i++ {
		if runes[i] == '\n' {
			line++
		}
	}
	return store.Location{Page: chosen.Page, Paragraph: chosen.Index, Line: line}
}

// Slice returns content[start:end) in runes; ok is false when out of range.
func Slice(content string, start, end int) (string, bool) {
	runes := []rune(content)
	if start < 0 || end < start || end > len(runes) {
		return "", false
	}
	return string(runes[start:end]), true
}

func replace(runes []rune, start, end int, text string) []rune {
	out := make([]rune, 0, len(runes)-(end-start)+len(text))
	out = append(out, runes[:start]...)
	out = append(out, []rune(text)...)
	out = append(out, runes[end:]...)
	return out
}
