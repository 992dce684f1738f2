package export

import (
	"context"
	"errors"
	"fmt"
	"html/template"

	"pubflow/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	GetVersion(ctx context.Context, documentID string, number int) (store.DocumentVersion, error)
	LatestVersion(ctx context.Context, documentID string) (store.DocumentVersion, error)
	GetInstanceByDocument(ctx context.Context, documentID string) (store.WorkflowInstance, error)
}

// Service provides document export functionality
type Service struct {
	store DataStore
	pdf   func(ctx context.Context, html, title string) (*Result, error)
	docx  func(ctx context.Context, html, title string) (*Result, error)
}

func NewService(store DataStore) *Service {
	return &Service{store: store, pdf: exportPDF, docx: exportDOCX}
}

// Export renders one version of a document in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	var version store.DocumentVersion
	if req.Version > 0 {
		version, err = s.store.GetVersion(ctx, req.DocumentID, req.Version)
	} else {
		version, err = s.store.LatestVersion(ctx, req.DocumentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}

	data := TemplateData{
		Title:         doc.Title,
		VersionNumber: version.VersionNumber,
		ContentHTML:   template.HTML(ContentToHTML(version.Content)),
		Author:        version.CreatedBy,
		CreatedAt:     version.CreatedAt,
	}

	inst, err := s.store.GetInstanceByDocument(ctx, req.DocumentID)
	switch {
	case err == nil:
		data.Stage = inst.CurrentStageID
		if req.IncludeHistory {
			for _, entry := range inst.History {
				data.History = append(data.History, TemplateHistoryEntry{
					At:       entry.Timestamp,
					Stage:    entry.StageName,
					Action:   entry.Action,
					Role:     entry.ActingRole,
					Outcome:  entry.Outcome,
					Comments: entry.Comments,
				})
			}
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := fmt.Sprintf("%s v%d", doc.Title, version.VersionNumber)
	switch req.Format {
	case FormatHTML, "":
		return &Result{Data: []byte(html), Filename: sanitizeFilename(title) + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		return s.pdf(ctx, html, title)
	case FormatDOCX:
		return s.docx(ctx, html, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
