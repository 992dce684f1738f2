package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"pubflow/api/internal/auth"
	"pubflow/api/internal/config"
	"pubflow/api/internal/events"
	"pubflow/api/internal/export"
	"pubflow/api/internal/metrics"
	"pubflow/api/internal/rbac"
	"pubflow/api/internal/store"
	"pubflow/api/internal/workflow"
)

type testEnv struct {
	store *store.SQLStore
	svc   *Service
	spans *tracetest.InMemoryExporter
}

func reviewTemplate() *workflow.Template {
	return &workflow.Template{
		ID:   "review",
		Name: "Review",
		Stages: []workflow.Stage{
			{ID: "DRAFT", Name: "Draft", AllowedRoles: []rbac.Role{rbac.RoleOPR}, AllowedActions: []string{"SUBMIT"}, Transitions: []workflow.Transition{{Action: "SUBMIT", To: "REVIEW"}}, Notify: []string{"review@example.mil"}},
			{ID: "REVIEW", Name: "Review", AllowedRoles: []rbac.Role{rbac.RoleCoordinator}, AllowedActions: []string{"APPROVE", "RETURN"}, Transitions: []workflow.Transition{{Action: "APPROVE", To: "PUBLISHED"}, {Action: "RETURN", To: "DRAFT"}}},
			{ID: "PUBLISHED", Name: "Published"},
		},
	}
}

// newTestEnv wires the service to an in-memory sqlite store. wrap lets a test
// interpose on storage calls.
func newTestEnv(t *testing.T, wrap func(dataStore) dataStore) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(ctx, db, store.DialectSQLite); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	sqlStore := store.NewSQLStore(db, store.DialectSQLite)

	builtin, err := workflow.Builtin()
	if err != nil {
		t.Fatalf("builtin templates: %v", err)
	}
	registry, err := workflow.NewRegistry(append(builtin, reviewTemplate())...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	var ds dataStore = sqlStore
	if wrap != nil {
		ds = wrap(sqlStore)
	}
	svc := New(config.Config{StorageTimeoutMS: 2000, StorageRetries: 3}, ds, Deps{
		Templates: registry,
		Exporter:  export.NewService(store.NewBounded(sqlStore, 2*time.Second)),
		Metrics:   metrics.New(),
		Tracer:    provider.Tracer("test"),
	})
	svc.backoffBase = time.Millisecond
	svc.backoffMax = 2 * time.Millisecond
	return &testEnv{store: sqlStore, svc: svc, spans: exporter}
}

func principal(role rbac.Role) auth.Principal {
	return auth.Principal{UserID: "u_" + strings.ToLower(string(role)), Name: string(role), Role: role}
}

func (e *testEnv) startDocument(t *testing.T, templateID, content string) store.WorkflowInstance {
	t.Helper()
	ctx := context.Background()
	doc, err := e.svc.CreateDocument(ctx, principal(rbac.RoleOPR), CreateDocumentInput{Title: "Training circular", Content: content})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	inst, err := e.svc.StartWorkflow(ctx, principal(rbac.RoleOPR), doc.ID, templateID)
	if err != nil {
		t.Fatalf("start workflow: %v", err)
	}
	return inst
}

func (e *testEnv) advance(t *testing.T, instanceID string, role rbac.Role, action string, payload map[string]any) store.WorkflowInstance {
	t.Helper()
	inst, err := e.svc.Advance(context.Background(), instanceID, principal(role), AdvanceInput{Action: action, Payload: payload})
	if err != nil {
		t.Fatalf("%s %s: %v", role, action, err)
	}
	return inst
}

func TestAdvanceToTerminalStageCompletes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	inst := env.startDocument(t, "review", "Body text.")
	if inst.CurrentStageID != "DRAFT" || inst.Status != store.StatusActive || inst.Version != 1 {
		t.Fatalf("unexpected start state: %+v", inst)
	}

	inst = env.advance(t, inst.ID, rbac.RoleOPR, "submit", nil)
	if inst.CurrentStageID != "REVIEW" || inst.Version != 2 {
		t.Fatalf("after submit: stage=%s version=%d", inst.CurrentStageID, inst.Version)
	}
	inst = env.advance(t, inst.ID, rbac.RoleCoordinator, "APPROVE", nil)
	if inst.CurrentStageID != "PUBLISHED" || inst.Status != store.StatusCompleted {
		t.Fatalf("after approve: %+v", inst)
	}

	stored, err := env.svc.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if stored.Version != inst.Version || len(stored.History) != 2 {
		t.Fatalf("stored instance = version %d, %d entries", stored.Version, len(stored.History))
	}
	last := stored.History[1]
	if last.Outcome != store.OutcomeCompleted || last.StageID != "REVIEW" || last.ToStageID != "PUBLISHED" || last.Seq != 2 {
		t.Fatalf("last entry = %+v", last)
	}

	_, err = env.svc.Advance(ctx, inst.ID, principal(rbac.RoleAdmin), AdvanceInput{Action: "APPROVE"})
	if !errors.As(err, new(*InstanceNotActiveError)) {
		t.Fatalf("expected InstanceNotActiveError, got %v", err)
	}

	pending, err := env.store.PendingEvents(ctx, 10)
	if err != nil {
		t.Fatalf("pending events: %v", err)
	}
	topics := map[string]int{}
	for _, event := range pending {
		topics[event.Topic]++
	}
	if topics[events.TopicWorkflowStarted] != 1 || topics[events.TopicStageAdvanced] != 1 || topics[events.TopicWorkflowCompleted] != 1 {
		t.Fatalf("outbox topics = %v", topics)
	}
}

func TestUndefinedActionIsCheckedBeforeRole(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	inst := env.startDocument(t, "review", "Body text.")

	_, err := env.svc.Advance(ctx, inst.ID, principal(rbac.RoleOPR), AdvanceInput{Action: "APPROVE"})
	if !errors.As(err, new(*workflow.NoSuchTransitionError)) {
		t.Fatalf("expected NoSuchTransitionError, got %v", err)
	}
	_, err = env.svc.Advance(ctx, inst.ID, principal(rbac.RoleViewer), AdvanceInput{Action: "SUBMIT"})
	var denied *workflow.PermissionDeniedError
	if !errors.As(err, &denied) || denied.StageID != "DRAFT" || denied.Role != rbac.RoleViewer {
		t.Fatalf("expected PermissionDeniedError, got %v", err)
	}
	if mapped := asDomainError(err); mapped.Status != 403 {
		t.Fatalf("permission denied mapped to %d", mapped.Status)
	}

	stored, _ := env.svc.GetInstance(ctx, inst.ID)
	if stored.Version != 1 || len(stored.History) != 0 || stored.CurrentStageID != "DRAFT" {
		t.Fatalf("failed advances changed the instance: %+v", stored)
	}
}

func TestAdminOverridesAllowedRoles(t *testing.T) {
	env := newTestEnv(t, nil)
	inst := env.startDocument(t, "review", "Body text.")
	inst = env.advance(t, inst.ID, rbac.RoleWorkflowAdmin, "SUBMIT", nil)
	if inst.CurrentStageID != "REVIEW" {
		t.Fatalf("stage = %s", inst.CurrentStageID)
	}
}

func TestParallelStageWaitsForEveryRequiredRole(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	inst := env.startDocument(t, workflow.DefaultTemplateID, "Body text.")
	inst = env.advance(t, inst.ID, rbac.RoleAuthor, "SUBMIT", nil)
	if inst.CurrentStageID != "COORDINATION" {
		t.Fatalf("stage = %s", inst.CurrentStageID)
	}

	inst = env.advance(t, inst.ID, rbac.RoleCoordinator, "APPROVE", nil)
	if inst.CurrentStageID != "COORDINATION" || len(inst.Approvals) != 1 {
		t.Fatalf("first approval moved the stage: %+v", inst)
	}
	if got := inst.History[len(inst.History)-1].Outcome; got != store.OutcomeApprovalRecorded {
		t.Fatalf("outcome = %s", got)
	}

	view, err := env.svc.AvailableActions(ctx, principal(rbac.RoleCoordinator), inst.ID)
	if err != nil {
		t.Fatalf("available actions: %v", err)
	}
	if strings.Join(view.Actions, ",") != "RETURN" {
		t.Fatalf("coordinator actions after approving = %v", view.Actions)
	}

	_, err = env.svc.Advance(ctx, inst.ID, principal(rbac.RoleCoordinator), AdvanceInput{Action: "APPROVE"})
	if !errors.As(err, new(*ValidationError)) {
		t.Fatalf("expected duplicate approval to fail validation, got %v", err)
	}

	inst = env.advance(t, inst.ID, rbac.RoleSubReviewer, "APPROVE", nil)
	if inst.CurrentStageID != "LEGAL_CHECK" || len(inst.Approvals) != 0 {
		t.Fatalf("after all approvals: %+v", inst)
	}

	inst = env.advance(t, inst.ID, rbac.RoleOPR, "ROUTE", map[string]any{"legalReviewRequired": true})
	if inst.CurrentStageID != "LEGAL" {
		t.Fatalf("condition routed to %s", inst.CurrentStageID)
	}
}

func TestConditionFalseBranch(t *testing.T) {
	env := newTestEnv(t, nil)
	inst := env.startDocument(t, workflow.DefaultTemplateID, "Body text.")
	env.advance(t, inst.ID, rbac.RoleAuthor, "SUBMIT", nil)
	inst = env.advance(t, inst.ID, rbac.RoleAdmin, "APPROVE", nil)
	if inst.CurrentStageID != "LEGAL_CHECK" {
		t.Fatalf("override approval should complete the parallel stage, got %s", inst.CurrentStageID)
	}
	inst = env.advance(t, inst.ID, rbac.RoleCoordinator, "ROUTE", map[string]any{"legalReviewRequired": "yes"})
	if inst.CurrentStageID != "LEADERSHIP" {
		t.Fatalf("mistyped predicate should take the false branch, got %s", inst.CurrentStageID)
	}
}

func TestMoveBackward(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	inst := env.startDocument(t, "review", "Body text.")
	inst = env.advance(t, inst.ID, rbac.RoleOPR, "SUBMIT", nil)

	_, err := env.svc.Advance(ctx, inst.ID, principal(rbac.RoleCoordinator), AdvanceInput{
		Action: workflow.ActionMoveBackward, Payload: map[string]any{"targetStageId": "DRAFT"},
	})
	if !errors.As(err, new(*workflow.PermissionDeniedError)) {
		t.Fatalf("expected PermissionDeniedError, got %v", err)
	}
	_, err = env.svc.Advance(ctx, inst.ID, principal(rbac.RoleAdmin), AdvanceInput{
		Action: workflow.ActionMoveBackward, Payload: map[string]any{"targetStageId": "PUBLISHED"},
	})
	if !errors.As(err, new(*ValidationError)) {
		t.Fatalf("expected ValidationError for a later stage, got %v", err)
	}

	inst = env.advance(t, inst.ID, rbac.RoleAdmin, workflow.ActionMoveBackward, map[string]any{"targetStageId": "DRAFT"})
	if inst.CurrentStageID != "DRAFT" || inst.Status != store.StatusActive {
		t.Fatalf("after move backward: %+v", inst)
	}
	if got := inst.History[len(inst.History)-1].Outcome; got != store.OutcomeMovedBackward {
		t.Fatalf("outcome = %s", got)
	}
}

func TestCancelRequiresOverride(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	inst := env.startDocument(t, "review", "Body text.")

	if _, err := env.svc.Cancel(ctx, inst.ID, principal(rbac.RoleOPR), "no"); !errors.As(err, new(*workflow.PermissionDeniedError)) {
		t.Fatalf("expected PermissionDeniedError, got %v", err)
	}
	cancelled, err := env.svc.Cancel(ctx, inst.ID, principal(rbac.RoleAdmin), "superseded")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != store.StatusCancelled || cancelled.History[0].Comments != "superseded" {
		t.Fatalf("cancelled = %+v", cancelled)
	}
	if _, err := env.svc.Cancel(ctx, inst.ID, principal(rbac.RoleAdmin), ""); !errors.As(err, new(*InstanceNotActiveError)) {
		t.Fatalf("expected InstanceNotActiveError, got %v", err)
	}
}

func TestStartWorkflowTwiceConflicts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	inst := env.startDocument(t, "review", "Body text.")

	_, err := env.svc.StartWorkflow(ctx, principal(rbac.RoleOPR), inst.DocumentID, "review")
	if mapped := asDomainError(err); mapped.Status != 409 || mapped.Code != "WORKFLOW_EXISTS" {
		t.Fatalf("expected 409 WORKFLOW_EXISTS, got %v", err)
	}
	_, err = env.svc.StartWorkflow(ctx, principal(rbac.RoleOPR), inst.DocumentID, "missing")
	if !errors.As(err, new(*ValidationError)) {
		t.Fatalf("expected ValidationError for unknown template, got %v", err)
	}
	if _, err := env.svc.GetInstance(ctx, "wfi_missing"); !errors.As(err, new(*InstanceNotFoundError)) {
		t.Fatalf("expected InstanceNotFoundError, got %v", err)
	}
}

// barrierStore holds every instance read until two have happened, so both
// advances decide against the same version.
type barrierStore struct {
	dataStore
	reads sync.WaitGroup
}

func (b *barrierStore) GetInstance(ctx context.Context, instanceID string) (store.WorkflowInstance, error) {
	inst, err := b.dataStore.GetInstance(ctx, instanceID)
	b.reads.Done()
	b.reads.Wait()
	return inst, err
}

func TestConcurrentAdvanceExactlyOneWins(t *testing.T) {
	var barrier *barrierStore
	env := newTestEnv(t, func(ds dataStore) dataStore {
		barrier = &barrierStore{dataStore: ds}
		return barrier
	})
	ctx := context.Background()
	doc, err := env.svc.CreateDocument(ctx, principal(rbac.RoleOPR), CreateDocumentInput{Title: "Race", Content: "Body."})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	inst, err := env.svc.StartWorkflow(ctx, principal(rbac.RoleOPR), doc.ID, "review")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	barrier.reads.Add(2)
	results := make(chan error, 2)
	for _, role := range []rbac.Role{rbac.RoleOPR, rbac.RoleAdmin} {
		go func(role rbac.Role) {
			_, err := env.svc.Advance(ctx, inst.ID, principal(role), AdvanceInput{Action: "SUBMIT"})
			results <- err
		}(role)
	}

	var succeeded, conflicted int
	for range 2 {
		err := <-results
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, new(*ConcurrentModificationError)):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || conflicted != 1 {
		t.Fatalf("succeeded=%d conflicted=%d", succeeded, conflicted)
	}

	stored, err := env.store.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if stored.Version != 2 || len(stored.History) != 1 {
		t.Fatalf("stored = version %d, %d entries", stored.Version, len(stored.History))
	}
}

type flakyStore struct {
	dataStore
	failures int
	err      error
	calls    int
}

func (f *flakyStore) UpdateInstance(ctx context.Context, update store.InstanceUpdate) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return f.dataStore.UpdateInstance(ctx, update)
}

func TestStorageTimeoutsAreRetried(t *testing.T) {
	cases := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		check     func(t *testing.T, err error)
	}{
		{
			name: "recovers", failures: 2, err: store.ErrTimeout, wantCalls: 3,
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Fatalf("expected success after retries, got %v", err)
				}
			},
		},
		{
			name: "exhausted", failures: 10, err: store.ErrTimeout, wantCalls: 3,
			check: func(t *testing.T, err error) {
				var timeout *StorageTimeoutError
				if !errors.As(err, &timeout) || timeout.Attempts != 3 {
					t.Fatalf("expected StorageTimeoutError after 3 attempts, got %v", err)
				}
				if asDomainError(err).Status != 503 {
					t.Fatalf("timeout should map to 503")
				}
			},
		},
		{
			name: "conflict is not retried", failures: 10, err: store.ErrConflict, wantCalls: 1,
			check: func(t *testing.T, err error) {
				if !errors.As(err, new(*ConcurrentModificationError)) {
					t.Fatalf("expected ConcurrentModificationError, got %v", err)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var flaky *flakyStore
			env := newTestEnv(t, func(ds dataStore) dataStore {
				flaky = &flakyStore{dataStore: ds, failures: tc.failures, err: tc.err}
				return flaky
			})
			inst := env.startDocument(t, "review", "Body.")
			_, err := env.svc.Advance(context.Background(), inst.ID, principal(rbac.RoleOPR), AdvanceInput{Action: "SUBMIT"})
			tc.check(t, err)
			if flaky.calls != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", flaky.calls, tc.wantCalls)
			}
		})
	}
}

func TestAdvanceRecordsSpan(t *testing.T) {
	env := newTestEnv(t, nil)
	inst := env.startDocument(t, "review", "Body.")
	_, _ = env.svc.Advance(context.Background(), inst.ID, principal(rbac.RoleViewer), AdvanceInput{Action: "SUBMIT"})

	var found bool
	for _, span := range env.spans.GetSpans() {
		if span.Name != "workflow.Advance" {
			continue
		}
		found = true
		if span.Status.Code != codes.Error {
			t.Fatalf("span status = %v", span.Status)
		}
	}
	if !found {
		t.Fatal("workflow.Advance span not recorded")
	}
}

func (e *testEnv) createFeedback(t *testing.T, documentID, content string, start, end int, suggested string) store.FeedbackItem {
	t.Helper()
	item, err := e.svc.CreateFeedback(context.Background(), principal(rbac.RoleCoordinator), documentID, CreateFeedbackInput{
		Start: start, End: end, OriginalText: content[start:end], SuggestedText: suggested,
	})
	if err != nil {
		t.Fatalf("create feedback: %v", err)
	}
	return item
}

func TestApplyFeedbackLeavesOverlapsPending(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	content := "0123456789abcdefghijklmnopqrstuvwxyz"
	inst := env.startDocument(t, "review", content)
	a := env.createFeedback(t, inst.DocumentID, content, 10, 24, "X")
	b := env.createFeedback(t, inst.DocumentID, content, 15, 24, "Y")

	result, err := env.svc.ApplyFeedback(ctx, principal(rbac.RoleOPR), inst.DocumentID, ApplyFeedbackInput{FeedbackIDs: []string{a.ID, b.ID}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !result.HasConflicts() || result.Version != nil || len(result.Applied) != 0 {
		t.Fatalf("result = %+v", result)
	}

	pending, err := env.svc.ListFeedback(ctx, inst.DocumentID, "pending")
	if err != nil {
		t.Fatalf("list feedback: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d", len(pending))
	}
	for _, item := range pending {
		if len(item.ConflictsWith) != 1 {
			t.Fatalf("%s conflictsWith = %v", item.ID, item.ConflictsWith)
		}
	}
	latest, _ := env.store.LatestVersion(ctx, inst.DocumentID)
	if latest.VersionNumber != 1 {
		t.Fatalf("a conflicting merge wrote version %d", latest.VersionNumber)
	}
}

func TestApplyFeedbackWritesVersionAndRebasesOlderItems(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	content := "Alpha bravo charlie delta echo.\n\nfoxtrot golf hotel"
	inst := env.startDocument(t, "review", content)
	bravo := strings.Index(content, "bravo")
	golf := strings.Index(content, "golf")
	first := env.createFeedback(t, inst.DocumentID, content, bravo, bravo+len("bravo"), "BRAVO-ONE")
	second := env.createFeedback(t, inst.DocumentID, content, golf, golf+len("golf"), "GOLF")

	result, err := env.svc.ApplyFeedback(ctx, principal(rbac.RoleOPR), inst.DocumentID, ApplyFeedbackInput{FeedbackIDs: []string{first.ID}})
	if err != nil {
		t.Fatalf("apply first: %v", err)
	}
	if result.Version == nil || result.Version.VersionNumber != 2 {
		t.Fatalf("first merge = %+v", result)
	}

	result, err = env.svc.ApplyFeedback(ctx, principal(rbac.RoleOPR), inst.DocumentID, ApplyFeedbackInput{FeedbackIDs: []string{second.ID}, MergeStrategy: "strict"})
	if err != nil {
		t.Fatalf("apply second: %v", err)
	}
	if result.Version == nil || result.Version.VersionNumber != 3 {
		t.Fatalf("second merge = %+v", result)
	}
	want := "Alpha BRAVO-ONE charlie delta echo.\n\nfoxtrot GOLF hotel"
	if result.Version.Content != want {
		t.Fatalf("content = %q", result.Version.Content)
	}

	diff, err := env.svc.DiffVersions(ctx, inst.DocumentID, 3, 0)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(diff.Modified) != 1 || len(diff.Added) != 0 || len(diff.Removed) != 0 {
		t.Fatalf("diff = %+v", diff)
	}

	_, err = env.svc.ApplyFeedback(ctx, principal(rbac.RoleOPR), inst.DocumentID, ApplyFeedbackInput{FeedbackIDs: []string{first.ID}})
	if !errors.As(err, new(*ValidationError)) {
		t.Fatalf("re-applying applied feedback should fail validation, got %v", err)
	}

	var found bool
	for _, span := range env.spans.GetSpans() {
		if span.Name == "feedback.Apply" {
			found = true
		}
	}
	if !found {
		t.Fatal("feedback.Apply span not recorded")
	}
}

func TestCreateFeedbackValidatesSpan(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	inst := env.startDocument(t, "review", "short text")

	_, err := env.svc.CreateFeedback(ctx, principal(rbac.RoleCoordinator), inst.DocumentID, CreateFeedbackInput{Start: 0, End: 50, OriginalText: "x", SuggestedText: "y"})
	if !errors.As(err, new(*ValidationError)) {
		t.Fatalf("expected ValidationError for out of range span, got %v", err)
	}
	_, err = env.svc.CreateFeedback(ctx, principal(rbac.RoleCoordinator), inst.DocumentID, CreateFeedbackInput{Start: 0, End: 5, OriginalText: "other", SuggestedText: "y"})
	if !errors.As(err, new(*ValidationError)) {
		t.Fatalf("expected ValidationError for mismatched text, got %v", err)
	}

	item := env.createFeedback(t, inst.DocumentID, "short text", 0, 5, "long")
	rejected, err := env.svc.RejectFeedback(ctx, inst.DocumentID, item.ID)
	if err != nil || rejected.Status != store.FeedbackRejected {
		t.Fatalf("reject = %+v, %v", rejected, err)
	}
	if _, err := env.svc.RejectFeedback(ctx, inst.DocumentID, item.ID); asDomainError(err).Code != "FEEDBACK_NOT_PENDING" {
		t.Fatalf("second reject = %v", err)
	}
}

type exportDeadlineStore struct {
	*store.SQLStore
	hadDeadline bool
	block       bool
}

func (s *exportDeadlineStore) GetDocument(ctx context.Context, id string) (store.Document, error) {
	_, s.hadDeadline = ctx.Deadline()
	if s.block {
		<-ctx.Done()
		return store.Document{}, ctx.Err()
	}
	return s.SQLStore.GetDocument(ctx, id)
}

func TestExportReadsAreBounded(t *testing.T) {
	env := newTestEnv(t, nil)
	inst := env.startDocument(t, "review", "Body text.")

	reads := &exportDeadlineStore{SQLStore: env.store}
	svc := New(config.Config{}, env.store, Deps{Exporter: export.NewService(store.NewBounded(reads, time.Second))})
	result, err := svc.Export(context.Background(), inst.DocumentID, "html", 0)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !reads.hadDeadline || len(result.Data) == 0 {
		t.Fatalf("export read without a deadline (deadline=%v)", reads.hadDeadline)
	}

	slow := &exportDeadlineStore{SQLStore: env.store, block: true}
	svc = New(config.Config{}, env.store, Deps{Exporter: export.NewService(store.NewBounded(slow, 5*time.Millisecond))})
	_, err = svc.Export(context.Background(), inst.DocumentID, "html", 0)
	if !errors.Is(err, store.ErrTimeout) {
		t.Fatalf("expected storage timeout, got %v", err)
	}
	if got := asDomainError(err); got.Status != 503 || got.Code != "STORAGE_TIMEOUT" {
		t.Fatalf("mapped to %d %s", got.Status, got.Code)
	}
}
