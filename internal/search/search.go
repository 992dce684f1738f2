// Package search finds published documents. Meilisearch serves queries while
// it is healthy; the SQL store answers otherwise.
package search

import (
	"context"

	"pubflow/api/internal/store"
)

const (
	SourceMeili = "meilisearch"
	SourceSQL   = "sql"
)

// Record is what gets indexed when a workflow completes.
type Record struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	VersionNumber  int    `json:"versionNumber"`
	TemplateID     string `json:"templateId"`
	OrganizationID string `json:"organizationId"`
	PublishedAt    string `json:"publishedAt"`
}

type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []store.SearchHit `json:"results"`
	Total   int               `json:"total"`
	Query   string            `json:"query"`
	Source  string            `json:"source"`
}

type Searcher interface {
	Search(ctx context.Context, q Query) ([]store.SearchHit, int, error)
	Healthy() bool
}

type Indexer interface {
	Index(rec Record) error
	Delete(id string) error
}

func normalize(q Query) Query {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
