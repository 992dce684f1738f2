package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type boundedBackend interface {
	GetDocument(ctx context.Context, documentID string) (Document, error)
	GetVersion(ctx context.Context, documentID string, number int) (DocumentVersion, error)
	LatestVersion(ctx context.Context, documentID string) (DocumentVersion, error)
	GetInstanceByDocument(ctx context.Context, documentID string) (WorkflowInstance, error)
	SearchPublished(ctx context.Context, q string, limit, offset int) ([]SearchHit, error)
	PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkEventDelivered(ctx context.Context, eventID string, at time.Time) error
	MarkEventFailed(ctx context.Context, eventID, reason string, maxAttempts int) error
}

// Bounded gives every call its own deadline. Export, publishing, search and
// the outbox relay read through it; a hit deadline surfaces as ErrTimeout.
type Bounded struct {
	backend boundedBackend
	timeout time.Duration
}

func NewBounded(backend boundedBackend, timeout time.Duration) *Bounded {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bounded{backend: backend, timeout: timeout}
}

func bounded[T any](ctx context.Context, b *Bounded, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	out, err := fn(ctx)
	if err != nil && !errors.Is(err, ErrTimeout) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return out, err
}

func (b *Bounded) GetDocument(ctx context.Context, documentID string) (Document, error) {
	return bounded(ctx, b, func(ctx context.Context) (Document, error) {
		return b.backend.GetDocument(ctx, documentID)
	})
}

func (b *Bounded) GetVersion(ctx context.Context, documentID string, number int) (DocumentVersion, error) {
	return bounded(ctx, b, func(ctx context.Context) (DocumentVersion, error) {
		return b.backend.GetVersion(ctx, documentID, number)
	})
}

func (b *Bounded) LatestVersion(ctx context.Context, documentID string) (DocumentVersion, error) {
	return bounded(ctx, b, func(ctx context.Context) (DocumentVersion, error) {
		return b.backend.LatestVersion(ctx, documentID)
	})
}

func (b *Bounded) GetInstanceByDocument(ctx context.Context, documentID string) (WorkflowInstance, error) {
	return bounded(ctx, b, func(ctx context.Context) (WorkflowInstance, error) {
		return b.backend.GetInstanceByDocument(ctx, documentID)
	})
}

func (b *Bounded) SearchPublished(ctx context.Context, q string, limit, offset int) ([]SearchHit, error) {
	return bounded(ctx, b, func(ctx context.Context) ([]SearchHit, error) {
		return b.backend.SearchPublished(ctx, q, limit, offset)
	})
}

func (b *Bounded) PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	return bounded(ctx, b, func(ctx context.Context) ([]OutboxEvent, error) {
		return b.backend.PendingEvents(ctx, limit)
	})
}

func (b *Bounded) MarkEventDelivered(ctx context.Context, eventID string, at time.Time) error {
	_, err := bounded(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.backend.MarkEventDelivered(ctx, eventID, at)
	})
	return err
}

func (b *Bounded) MarkEventFailed(ctx context.Context, eventID, reason string, maxAttempts int) error {
	_, err := bounded(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.backend.MarkEventFailed(ctx, eventID, reason, maxAttempts)
	})
	return err
}
