package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"pubflow/api/internal/events"
	"pubflow/api/internal/export"
	"pubflow/api/internal/search"
	"pubflow/api/internal/store"
)

type documentStore interface {
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	LatestVersion(ctx context.Context, documentID string) (store.DocumentVersion, error)
}

type searchIndex interface {
	Index(rec search.Record) error
}

type renderer interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Publisher handles workflow.completed: it archives the latest version and
// indexes it. Either collaborator may be nil.
type Publisher struct {
	docs    documentStore
	objects ObjectStore
	index   searchIndex
	render  renderer
	logger  *slog.Logger
}

func NewPublisher(docs documentStore, objects ObjectStore, index searchIndex, logger *slog.Logger) *Publisher {
	return &Publisher{docs: docs, objects: objects, index: index, logger: logger}
}

// WithRendition also archives an HTML rendition, including the review
// history, next to the plain text.
func (p *Publisher) WithRendition(r renderer) *Publisher {
	p.render = r
	return p
}

func (p *Publisher) Name() string { return "publisher" }

func (p *Publisher) Handles(topic string) bool {
	return topic == events.TopicWorkflowCompleted
}

// ObjectKey is where version n of a document is archived.
func ObjectKey(documentID string, version int) string {
	return fmt.Sprintf("documents/%s/v%d.txt", documentID, version)
}

func RenditionKey(documentID string, version int) string {
	return fmt.Sprintf("documents/%s/v%d.html", documentID, version)
}

func (p *Publisher) Handle(ctx context.Context, event store.OutboxEvent) error {
	change, err := events.DecodeStageChange(event)
	if err != nil {
		return err
	}
	doc, err := p.docs.GetDocument(ctx, change.DocumentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", change.DocumentID, err)
	}
	version, err := p.docs.LatestVersion(ctx, change.DocumentID)
	if err != nil {
		return fmt.Errorf("load latest version of %s: %w", change.DocumentID, err)
	}

	if p.objects != nil {
		key := ObjectKey(doc.ID, version.VersionNumber)
		meta := map[string]string{
			"document-id": doc.ID,
			"title":       doc.Title,
			"template-id": change.TemplateID,
			"version":     strconv.Itoa(version.VersionNumber),
		}
		if err := p.objects.Put(ctx, key, []byte(version.Content), "text/plain; charset=utf-8", meta); err != nil {
			return err
		}
		if p.render != nil {
			rendition, err := p.render.Export(ctx, export.Request{
				DocumentID:     doc.ID,
				Version:        version.VersionNumber,
				Format:         export.FormatHTML,
				IncludeHistory: true,
			})
			if err != nil {
				return fmt.Errorf("render %s: %w", doc.ID, err)
			}
			if err := p.objects.Put(ctx, RenditionKey(doc.ID, version.VersionNumber), rendition.Data, rendition.MimeType, meta); err != nil {
				return err
			}
		}
		p.logger.InfoContext(ctx, "published document archived",
			slog.String("document_id", doc.ID), slog.String("key", key))
	}

	if p.index != nil {
		rec := search.Record{
			ID:             doc.ID,
			Title:          doc.Title,
			Content:        version.Content,
			VersionNumber:  version.VersionNumber,
			TemplateID:     change.TemplateID,
			OrganizationID: doc.OrganizationID,
			PublishedAt:    change.At.UTC().Format(time.RFC3339),
		}
		if err := p.index.Index(rec); err != nil {
			return fmt.Errorf("index %s: %w", doc.ID, err)
		}
	}
	return nil
}
