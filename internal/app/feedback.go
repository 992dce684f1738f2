package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pubflow/api/internal/auth"
	"pubflow/api/internal/events"
	"pubflow/api/internal/feedback"
	"pubflow/api/internal/logging"
	"pubflow/api/internal/store"
	"pubflow/api/internal/util"
)

type CreateFeedbackInput struct {
	Start         int    `json:"start"`
	End           int    `json:"end"`
	OriginalText  string `json:"originalText"`
	SuggestedText string `json:"suggestedText"`
}

type ApplyFeedbackInput struct {
	FeedbackIDs   []string              `json:"feedbackIds"`
	MergeStrategy string                `json:"mergeStrategy"`
	Resolutions   []feedback.Resolution `json:"resolutions"`
}

// ApplyResult carries the new version, if one was written, and every
// conflict left for manual resolution.
type ApplyResult struct {
	Version   *store.DocumentVersion `json:"version,omitempty"`
	Applied   []string               `json:"applied"`
	Conflicts []feedback.Conflict    `json:"conflicts"`
}

func (r ApplyResult) HasConflicts() bool {
	return len(r.Conflicts) > 0
}

func (s *Service) latestVersion(ctx context.Context, documentID string) (store.DocumentVersion, error) {
	return storageCall(ctx, s, "latest_version", func(ctx context.Context) (store.DocumentVersion, error) {
		return s.store.LatestVersion(ctx, documentID)
	})
}

// CreateFeedback records a suggestion against the latest version. The span
// [start,end) must hold originalText; the location is derived from it.
func (s *Service) CreateFeedback(ctx context.Context, actor auth.Principal, documentID string, input CreateFeedbackInput) (store.FeedbackItem, error) {
	latest, err := s.latestVersion(ctx, documentID)
	if err != nil {
		return store.FeedbackItem{}, err
	}
	current, ok := feedback.Slice(latest.Content, input.Start, input.End)
	if !ok {
		return store.FeedbackItem{}, validationError("start", fmt.Sprintf("span [%d,%d) is outside the document", input.Start, input.End))
	}
	if current != input.OriginalText {
		return store.FeedbackItem{}, validationError("originalText", "does not match the document at the given span")
	}
	if input.SuggestedText == input.OriginalText {
		return store.FeedbackItem{}, validationError("suggestedText", "suggestion does not change the text")
	}

	item := store.FeedbackItem{
		ID:            util.NewID("fb"),
		DocumentID:    documentID,
		VersionNumber: latest.VersionNumber,
		Location:      feedback.LocationAt(latest.Content, input.Start),
		Start:         input.Start,
		End:           input.End,
		OriginalText:  input.OriginalText,
		SuggestedText: input.SuggestedText,
		Status:        store.FeedbackPending,
		ConflictsWith: []string{},
		AuthorID:      actor.UserID,
		CreatedAt:     s.now(),
	}
	if err := storageDo(ctx, s, "create_feedback", func(ctx context.Context) error {
		return s.store.CreateFeedback(ctx, item)
	}); err != nil {
		return store.FeedbackItem{}, err
	}
	return item, nil
}

func (s *Service) ListFeedback(ctx context.Context, documentID, status string) ([]store.FeedbackItem, error) {
	filter := store.FeedbackStatus(strings.ToUpper(strings.TrimSpace(status)))
	switch filter {
	case "", store.FeedbackPending, store.FeedbackApplied, store.FeedbackRejected:
	default:
		return nil, validationError("status", fmt.Sprintf("unknown status %q", status))
	}
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return storageCall(ctx, s, "list_feedback", func(ctx context.Context) ([]store.FeedbackItem, error) {
		return s.store.ListFeedback(ctx, documentID, filter)
	})
}

func (s *Service) RejectFeedback(ctx context.Context, documentID, feedbackID string) (store.FeedbackItem, error) {
	err := storageDo(ctx, s, "reject_feedback", func(ctx context.Context) error {
		return s.store.RejectFeedback(ctx, documentID, feedbackID, s.now())
	})
	if errors.Is(err, store.ErrConflict) {
		return store.FeedbackItem{}, domainError(http.StatusConflict, "FEEDBACK_NOT_PENDING", "Feedback is no longer pending", nil)
	}
	if err != nil {
		return store.FeedbackItem{}, err
	}
	return storageCall(ctx, s, "get_feedback", func(ctx context.Context) (store.FeedbackItem, error) {
		return s.store.GetFeedback(ctx, documentID, feedbackID)
	})
}

// ApplyFeedback merges the selected pending items into a new version. The
// version, the APPLIED status changes and the recorded conflicts are written
// in one transaction; a concurrent merge on the same document loses with
// ConcurrentModificationError.
func (s *Service) ApplyFeedback(ctx context.Context, actor auth.Principal, documentID string, input ApplyFeedbackInput) (result ApplyResult, err error) {
	ctx, span := s.tracer.Start(ctx, "feedback.Apply", trace.WithAttributes(
		attribute.String("pubflow.document_id", documentID),
		attribute.Int("pubflow.selected", len(input.FeedbackIDs)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "apply failed")
		}
		span.End()
	}()

	strategy, err := feedback.ParseStrategy(input.MergeStrategy)
	if err != nil {
		return ApplyResult{}, validationError("mergeStrategy", err.Error())
	}
	ids := dedupe(input.FeedbackIDs)
	if len(ids) == 0 {
		return ApplyResult{}, validationError("feedbackIds", "at least one feedback id is required")
	}

	base, err := s.latestVersion(ctx, documentID)
	if err != nil {
		return ApplyResult{}, err
	}

	items := make([]store.FeedbackItem, 0, len(ids))
	oldest := base.VersionNumber
	for _, id := range ids {
		item, err := storageCall(ctx, s, "get_feedback", func(ctx context.Context) (store.FeedbackItem, error) {
			return s.store.GetFeedback(ctx, documentID, id)
		})
		if errors.Is(err, store.ErrNotFound) {
			return ApplyResult{}, validationError("feedbackIds", fmt.Sprintf("unknown feedback %q", id))
		}
		if err != nil {
			return ApplyResult{}, err
		}
		if item.Status != store.FeedbackPending {
			return ApplyResult{}, validationError("feedbackIds", fmt.Sprintf("feedback %q is %s", id, item.Status))
		}
		oldest = min(oldest, item.VersionNumber)
		items = append(items, item)
	}

	live, stale, err := s.rebaseItems(ctx, documentID, base, oldest, items)
	if err != nil {
		return ApplyResult{}, err
	}

	merged, err := feedback.Merge(feedback.Input{
		Base:        base,
		Items:       live,
		Stale:       stale,
		Strategy:    strategy,
		Resolutions: input.Resolutions,
	})
	if err != nil {
		return ApplyResult{}, validationError("resolutions", err.Error())
	}

	now := s.now()
	commit := store.FeedbackMerge{
		DocumentID:      documentID,
		ExpectedVersion: base.VersionNumber,
		AppliedIDs:      merged.Applied,
		Conflicts:       merged.ConflictsWith,
	}
	if merged.Changed() {
		commit.Version = &store.DocumentVersion{
			DocumentID:    documentID,
			VersionNumber: base.VersionNumber + 1,
			Content:       merged.Content,
			Changes:       merged.Changes,
			PositionMap:   merged.PositionMap,
			CreatedBy:     actor.UserID,
			CreatedAt:     now,
		}
		event, err := events.New(events.TopicFeedbackApplied, documentID, events.FeedbackApplied{
			DocumentID:    documentID,
			VersionNumber: commit.Version.VersionNumber,
			FeedbackIDs:   merged.Applied,
			ActingUserID:  actor.UserID,
			At:            now,
		}, now)
		if err != nil {
			return ApplyResult{}, err
		}
		commit.Events = []store.OutboxEvent{event}
	}

	err = storageDo(ctx, s, "commit_feedback_merge", func(ctx context.Context) error {
		return s.store.CommitFeedbackMerge(ctx, commit)
	})
	if errors.Is(err, store.ErrConflict) {
		s.metrics.Conflict()
		return ApplyResult{}, &ConcurrentModificationError{Resource: "document", ID: documentID, ExpectedVersion: base.VersionNumber}
	}
	if err != nil {
		return ApplyResult{}, err
	}

	s.metrics.FeedbackApplied(len(merged.Applied))
	s.metrics.FeedbackConflicts(len(merged.Conflicts))
	span.SetAttributes(
		attribute.Int("pubflow.applied", len(merged.Applied)),
		attribute.Int("pubflow.conflicts", len(merged.Conflicts)),
	)
	s.log(ctx).Info("feedback applied",
		slog.String(logging.FieldDocumentID, documentID),
		slog.Int("applied", len(merged.Applied)),
		slog.Int("conflicts", len(merged.Conflicts)),
		slog.String("strategy", string(strategy)))

	applied := merged.Applied
	if applied == nil {
		applied = []string{}
	}
	conflicts := merged.Conflicts
	if conflicts == nil {
		conflicts = []feedback.Conflict{}
	}
	return ApplyResult{Version: commit.Version, Applied: applied, Conflicts: conflicts}, nil
}

// rebaseItems maps items written against older versions onto base. Items
// whose target text was rewritten in between come back as stale ids.
func (s *Service) rebaseItems(ctx context.Context, documentID string, base store.DocumentVersion, oldest int, items []store.FeedbackItem) ([]store.FeedbackItem, []string, error) {
	if oldest >= base.VersionNumber {
		return items, nil, nil
	}
	later, err := storageCall(ctx, s, "versions_since", func(ctx context.Context) ([]store.DocumentVersion, error) {
		return s.store.VersionsSince(ctx, documentID, oldest)
	})
	if err != nil {
		return nil, nil, err
	}
	live := make([]store.FeedbackItem, 0, len(items))
	var stale []string
	for _, item := range items {
		rebased, ok := feedback.Rebase(item, later)
		if !ok {
			stale = append(stale, item.ID)
			continue
		}
		live = append(live, rebased)
	}
	return live, stale, nil
}

func (s *Service) ListVersions(ctx context.Context, documentID string) ([]store.DocumentVersion, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return storageCall(ctx, s, "list_versions", func(ctx context.Context) ([]store.DocumentVersion, error) {
		return s.store.ListVersions(ctx, documentID)
	})
}

func (s *Service) GetVersion(ctx context.Context, documentID string, number int) (store.DocumentVersion, error) {
	return storageCall(ctx, s, "get_version", func(ctx context.Context) (store.DocumentVersion, error) {
		return s.store.GetVersion(ctx, documentID, number)
	})
}

// DiffVersions compares version other (before) with version number (after).
// other defaults to the version preceding number.
func (s *Service) DiffVersions(ctx context.Context, documentID string, number, other int) (feedback.DiffResult, error) {
	if other <= 0 {
		other = number - 1
	}
	if other <= 0 {
		return feedback.DiffResult{}, validationError("other", "version 1 has no predecessor")
	}
	after, err := s.GetVersion(ctx, documentID, number)
	if err != nil {
		return feedback.DiffResult{}, err
	}
	before, err := s.GetVersion(ctx, documentID, other)
	if err != nil {
		return feedback.DiffResult{}, err
	}
	return feedback.Diff(before.Content, after.Content), nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
