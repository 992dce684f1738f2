package search

import (
	"context"
	"log/slog"

	"pubflow/api/internal/store"
)

// Service tries Meilisearch first and falls back to the SQL scan.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback Searcher
	logger   *slog.Logger
}

// NewService wires the facade. primary and indexer may be nil when
// Meilisearch is not configured.
func NewService(primary Searcher, indexer Indexer, fallback Searcher, logger *slog.Logger) *Service {
	return &Service{primary: primary, indexer: indexer, fallback: fallback, logger: logger}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q = normalize(q)
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceMeili}
		}
		s.logger.WarnContext(ctx, "meilisearch failed, falling back to sql", slog.Any("error", err))
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.ErrorContext(ctx, "sql search failed", slog.Any("error", err))
		return Response{Results: []store.SearchHit{}, Query: q.Text, Source: SourceSQL}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceSQL}
}

// Index pushes a published document. Without a healthy index it is a no-op:
// the SQL fallback reads published content directly.
func (s *Service) Index(rec Record) error {
	if s.indexer == nil || (s.primary != nil && !s.primary.Healthy()) {
		return nil
	}
	return s.indexer.Index(rec)
}

func (s *Service) Delete(id string) error {
	if s.indexer == nil || (s.primary != nil && !s.primary.Healthy()) {
		return nil
	}
	return s.indexer.Delete(id)
}

func nonNil(r []store.SearchHit) []store.SearchHit {
	if r == nil {
		return []store.SearchHit{}
	}
	return r
}
