package search

import (
	"context"
	"strings"

	"pubflow/api/internal/store"
)

type publishedStore interface {
	SearchPublished(ctx context.Context, q string, limit, offset int) ([]store.SearchHit, error)
}

// SQL scans the latest version of every completed document.
type SQL struct {
	store publishedStore
}

func NewSQL(s publishedStore) *SQL {
	return &SQL{store: s}
}

// Healthy is always true: without the database nothing else works either.
func (s *SQL) Healthy() bool {
	return true
}

func (s *SQL) Search(ctx context.Context, q Query) ([]store.SearchHit, int, error) {
	q = normalize(q)
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	hits, err := s.store.SearchPublished(ctx, strings.TrimSpace(q.Text), q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	return hits, q.Offset + len(hits), nil
}
