package store

import (
	"context"
	"fmt"
	"strings"
)

// SearchPublished scans the latest version of every completed workflow's
// document. It backs search when no index is available.
func (s *SQLStore) SearchPublished(ctx context.Context, q string, limit, offset int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(q))) + "%"
	rows, err := s.query(ctx, s.db, `
		SELECT d.id, d.title, v.version_number, v.content
		FROM documents d
		JOIN workflow_instances w ON w.document_id = d.id
		JOIN document_versions v ON v.document_id = d.id AND v.version_number = d.latest_version
		WHERE w.status = ?
			AND (LOWER(d.title) LIKE ? ESCAPE '!' OR LOWER(v.content) LIKE ? ESCAPE '!')
		ORDER BY d.updated_at DESC, d.id
		LIMIT ? OFFSET ?
	`, string(StatusCompleted), pattern, pattern, limit, offset)
	if err != nil {
		return nil, classify(fmt.Errorf("search published: %w", err))
	}
	defer rows.Close()

	hits := make([]SearchHit, 0)
	for rows.Next() {
		var (
			hit     SearchHit
			content string
		)
		if err := rows.Scan(&hit.DocumentID, &hit.Title, &hit.VersionNumber, &content); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hit.Snippet = Snippet(content, q, 160)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate search hits: %w", err))
	}
	return hits, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}

// Snippet returns up to width runes of content around the first match of q.
func Snippet(content, q string, width int) string {
	runes := []rune(content)
	if len(runes) <= width {
		return content
	}
	lower := []rune(strings.ToLower(content))
	needle := []rune(strings.ToLower(strings.TrimSpace(q)))
	start := 0
	if len(needle) > 0 {
		for i := 0; i+len(needle) <= len(lower); i++ {
			if string(lower[i:i+len(needle)]) == string(needle) {
				start = i - width/4
				break
			}
		}
	}
	if start < 0 {
		start = 0
	}
	end := start + width
	if end > len(runes) {
		end = len(runes)
		start = max(0, end-width)
	}
	return string(runes[start:end])
}
