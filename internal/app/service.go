package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"pubflow/api/internal/auth"
	"pubflow/api/internal/config"
	"pubflow/api/internal/export"
	"pubflow/api/internal/insights"
	"pubflow/api/internal/logging"
	"pubflow/api/internal/metrics"
	"pubflow/api/internal/rbac"
	"pubflow/api/internal/search"
	"pubflow/api/internal/store"
	"pubflow/api/internal/util"
	"pubflow/api/internal/workflow"
)

type dataStore interface {
	Ping(context.Context) error

	CreateDocument(context.Context, store.Document, store.DocumentVersion) error
	GetDocument(context.Context, string) (store.Document, error)
	ListDocuments(context.Context) ([]store.Document, error)
	DeleteDocument(context.Context, string) error
	LatestVersion(context.Context, string) (store.DocumentVersion, error)
	GetVersion(context.Context, string, int) (store.DocumentVersion, error)
	ListVersions(context.Context, string) ([]store.DocumentVersion, error)
	VersionsSince(context.Context, string, int) ([]store.DocumentVersion, error)

	CreateInstance(context.Context, store.WorkflowInstance, []store.OutboxEvent) error
	GetInstance(context.Context, string) (store.WorkflowInstance, error)
	GetInstanceByDocument(context.Context, string) (store.WorkflowInstance, error)
	UpdateInstance(context.Context, store.InstanceUpdate) error

	CreateFeedback(context.Context, store.FeedbackItem) error
	GetFeedback(context.Context, string, string) (store.FeedbackItem, error)
	ListFeedback(context.Context, string, store.FeedbackStatus) ([]store.FeedbackItem, error)
	RejectFeedback(context.Context, string, string, time.Time) error
	CommitFeedbackMerge(context.Context, store.FeedbackMerge) error
}

type templateSource interface {
	Get(id string) (*workflow.Template, error)
	List() []*workflow.Template
}

type publicationSearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	Delete(id string) error
}

type insightProvider interface {
	Insights(ctx context.Context, req insights.Request) insights.Response
}

type documentExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Deps are the collaborators owned by the composition root. Search,
// Insights and Exporter may be nil.
type Deps struct {
	Templates templateSource
	Search    publicationSearch
	Insights  insightProvider
	Exporter  documentExporter
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
}

type Service struct {
	cfg       config.Config
	store     dataStore
	templates templateSource
	search    publicationSearch
	insights  insightProvider
	exporter  documentExporter
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	storageTimeout time.Duration
	storageRetries int
	backoffBase    time.Duration
	backoffMax     time.Duration
}

func New(cfg config.Config, dataStore dataStore, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("pubflow/api/internal/app")
	}
	timeout := cfg.StorageTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.StorageRetries
	if retries <= 0 {
		retries = 1
	}
	return &Service{
		cfg:            cfg,
		store:          dataStore,
		templates:      deps.Templates,
		search:         deps.Search,
		insights:       deps.Insights,
		exporter:       deps.Exporter,
		logger:         logger.With(slog.String(logging.FieldComponent, "app")),
		metrics:        deps.Metrics,
		tracer:         tracer,
		now:            func() time.Time { return time.Now().UTC() },
		storageTimeout: timeout,
		storageRetries: retries,
		backoffBase:    10 * time.Millisecond,
		backoffMax:     200 * time.Millisecond,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role rbac.Role, capability rbac.Capability) bool {
	return rbac.Can(role, capability)
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// storageCall bounds every persistence call by the storage timeout. Timeouts
// are retried with doubling backoff; every other error, including lost
// optimistic races, is returned on the first attempt.
func storageCall[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStorage(op, time.Since(started)) }()

	var zero T
	var lastErr error
	backoff := s.backoffBase
	for attempt := 1; attempt <= s.storageRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.storageTimeout)
		out, err := fn(callCtx)
		deadlineHit := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return out, nil
		}
		if !isTimeout(err) && !deadlineHit {
			return zero, err
		}
		lastErr = err
		if ctx.Err() != nil || attempt == s.storageRetries {
			return zero, &StorageTimeoutError{Op: op, Attempts: attempt, Err: lastErr}
		}

		s.metrics.StorageRetry(op)
		s.log(ctx).Warn("storage timeout, retrying",
			slog.String("op", op), slog.Int("attempt", attempt), slog.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return zero, &StorageTimeoutError{Op: op, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.backoffMax)
	}
	return zero, &StorageTimeoutError{Op: op, Attempts: s.storageRetries, Err: lastErr}
}

func storageDo(ctx context.Context, s *Service, op string, fn func(context.Context) error) error {
	_, err := storageCall(ctx, s, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func isTimeout(err error) bool {
	return errors.Is(err, store.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

type CreateDocumentInput struct {
	Title          string `json:"title"`
	Content        string `json:"content"`
	OrganizationID string `json:"organizationId"`
}

// CreateDocument stores the document and its version 1.
func (s *Service) CreateDocument(ctx context.Context, actor auth.Principal, input CreateDocumentInput) (store.Document, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Document{}, validationError("title", "title is required")
	}
	now := s.now()
	doc := store.Document{
		ID:             util.NewID("doc"),
		Title:          title,
		OrganizationID: strings.TrimSpace(input.OrganizationID),
		CreatedBy:      actor.UserID,
		LatestVersion:  1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	first := store.DocumentVersion{
		DocumentID:    doc.ID,
		VersionNumber: 1,
		Content:       input.Content,
		Changes:       []store.AppliedChange{},
		PositionMap:   store.PositionMap{FromVersion: 0, Shifts: []store.PositionShift{}},
		CreatedBy:     actor.UserID,
		CreatedAt:     now,
	}
	if err := storageDo(ctx, s, "create_document", func(ctx context.Context) error {
		return s.store.CreateDocument(ctx, doc, first)
	}); err != nil {
		return store.Document{}, err
	}
	s.log(ctx).Info("document created", slog.String(logging.FieldDocumentID, doc.ID))
	return doc, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	return storageCall(ctx, s, "get_document", func(ctx context.Context) (store.Document, error) {
		return s.store.GetDocument(ctx, documentID)
	})
}

func (s *Service) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return storageCall(ctx, s, "list_documents", s.store.ListDocuments)
}

// DeleteDocument removes the document with everything it owns, then drops
// it from the search index.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	if err := storageDo(ctx, s, "delete_document", func(ctx context.Context) error {
		return s.store.DeleteDocument(ctx, documentID)
	}); err != nil {
		return err
	}
	if s.search != nil {
		if err := s.search.Delete(documentID); err != nil {
			s.log(ctx).Warn("search delete failed", slog.String(logging.FieldDocumentID, documentID), slog.Any("error", err))
		}
	}
	s.log(ctx).Info("document deleted", slog.String(logging.FieldDocumentID, documentID))
	return nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []store.SearchHit{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// Insights never fails once the document exists.
func (s *Service) Insights(ctx context.Context, documentID string, req insights.Request) (insights.Response, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return insights.Response{}, err
	}
	req.DocumentID = doc.ID
	if req.OrganizationID == "" {
		req.OrganizationID = doc.OrganizationID
	}
	if s.insights == nil {
		return insights.Fallback(req, s.now()), nil
	}
	return s.insights.Insights(ctx, req), nil
}

// Export renders a document version. A zero version means the latest one.
func (s *Service) Export(ctx context.Context, documentID, format string, version int) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, validationError("format", "must be one of html, pdf, docx")
	}
	if version < 0 {
		return nil, validationError("version", "must be positive")
	}
	result, err := s.exporter.Export(ctx, export.Request{
		DocumentID:     documentID,
		Version:        version,
		Format:         parsed,
		IncludeHistory: true,
	})
	if err != nil {
		return nil, err
	}
	s.log(ctx).Info("document exported",
		slog.String(logging.FieldDocumentID, documentID),
		slog.String("format", string(parsed)))
	return result, nil
}
