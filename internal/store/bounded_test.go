package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

type deadlineRecorder struct {
	*SQLStore
	deadlines map[string]time.Duration
	block     bool
}

func (r *deadlineRecorder) record(ctx context.Context, op string) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		r.deadlines[op] = -1
	} else {
		r.deadlines[op] = time.Until(deadline)
	}
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (r *deadlineRecorder) GetDocument(ctx context.Context, id string) (Document, error) {
	if err := r.record(ctx, "get_document"); err != nil {
		return Document{}, err
	}
	return r.SQLStore.GetDocument(ctx, id)
}

func (r *deadlineRecorder) PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	if err := r.record(ctx, "pending_events"); err != nil {
		return nil, err
	}
	return r.SQLStore.PendingEvents(ctx, limit)
}

func TestBoundedSetsADeadlinePerCall(t *testing.T) {
	s := newTestStore(t)
	seedDocument(t, s, "doc_1", "body")
	rec := &deadlineRecorder{SQLStore: s, deadlines: map[string]time.Duration{}}
	b := NewBounded(rec, 2*time.Second)
	ctx := context.Background()

	if _, err := b.GetDocument(ctx, "doc_1"); err != nil {
		t.Fatalf("get document: %v", err)
	}
	if _, err := b.PendingEvents(ctx, 10); err != nil {
		t.Fatalf("pending events: %v", err)
	}
	for _, op := range []string{"get_document", "pending_events"} {
		left, ok := rec.deadlines[op]
		if !ok || left <= 0 || left > 2*time.Second {
			t.Fatalf("%s ran without the storage deadline (remaining %v)", op, left)
		}
	}

	if _, err := b.LatestVersion(ctx, "doc_1"); err != nil {
		t.Fatalf("latest version: %v", err)
	}
	if _, err := b.GetInstanceByDocument(ctx, "doc_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBoundedReportsTimeouts(t *testing.T) {
	s := newTestStore(t)
	rec := &deadlineRecorder{SQLStore: s, deadlines: map[string]time.Duration{}, block: true}
	b := NewBounded(rec, 5*time.Millisecond)

	if _, err := b.GetDocument(context.Background(), "doc_1"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if _, err := b.PendingEvents(context.Background(), 1); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
