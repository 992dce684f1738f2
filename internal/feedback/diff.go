package feedback

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

type DiffEntry struct {
	Page      int    `json:"page"`
	Paragraph int    `json:"paragraph"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

type DiffResult struct {
	Added    []DiffEntry `json:"added"`
	Removed  []DiffEntry `json:"removed"`
	Modified []DiffEntry `json:"modified"`
}

// Diff compares two contents paragraph by paragraph. Each distinct paragraph
// is encoded as one rune so the diff runs over paragraphs, not characters.
// A deletion immediately followed by an insertion is reported as modified.
// Only paragraph text is compared: blank-line separators, including leading
// or trailing ones, are not paragraphs and never show up in the result.
func Diff(before, after string) DiffResult {
	left := Paragraphs(before)
	right := Paragraphs(after)

	codes := make(map[string]rune)
	encode := func(paragraphs []Paragraph) []rune {
		out := make([]rune, len(paragraphs))
		for i, p := range paragraphs {
			code, ok := codes[p.Text]
			if !ok {
				code = paragraphRune(len(codes))
				codes[p.Text] = code
			}
			out[i] = code
		}
		return out
	}
	leftRunes := encode(left)
	rightRunes := encode(right)

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMainRunes(leftRunes, rightRunes, false)

	result := DiffResult{Added: []DiffEntry{}, Removed: []DiffEntry{}, Modified: []DiffEntry{}}
	li, ri := 0, 0
	for i := 0; i < len(diffs); i++ {
		n := len([]rune(diffs[i].Text))
		switch diffs[i].Type {
		case diffmatchpatch.DiffEqual:
			li += n
			ri += n
		case diffmatchpatch.DiffDelete, diffmatchpatch.DiffInsert:
			deleted, inserted := 0, 0
			if diffs[i].Type == diffmatchpatch.DiffDelete {
				deleted = n
			} else {
				inserted = n
			}
			if i+1 < len(diffs) && diffs[i+1].Type != diffmatchpatch.DiffEqual && diffs[i+1].Type != diffs[i].Type {
				if diffs[i+1].Type == diffmatchpatch.DiffInsert {
					inserted = len([]rune(diffs[i+1].Text))
				} else {
					deleted = len([]rune(diffs[i+1].Text))
				}
				i++
			}
			paired := min(deleted, inserted)
			for k := 0; k < paired; k++ {
				l, r := left[li+k], right[ri+k]
				result.Modified = append(result.Modified, DiffEntry{Page: r.Page, Paragraph: r.Index, Before: l.Text, After: r.Text})
			}
			for k := paired; k < deleted; k++ {
				l := left[li+k]
				result.Removed = append(result.Removed, DiffEntry{Page: l.Page, Paragraph: l.Index, Before: l.Text})
			}
			for k := paired; k < inserted; k++ {
				r := right[ri+k]
				result.Added = append(result.Added, DiffEntry{Page: r.Page, Paragraph: r.Index, After: r.Text})
			}
			li += deleted
			ri += inserted
		}
	}
	return result
}

// paragraphRune skips the surrogate range so every code stays a valid rune.
func paragraphRune(i int) rune {
	const privateUse = 0xE000
	const privateUseSize = 0xF900 - 0xE000
	if i < privateUseSize {
		return rune(privateUse + i)
	}
	return rune(0xF0000 + i - privateUseSize)
}
