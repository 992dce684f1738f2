package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pubflow/api/internal/logging"
	"pubflow/api/internal/metrics"
	"pubflow/api/internal/store"
)

// Listener receives delivered events. A listener may see the same event more
// than once when another listener failed, so handlers must be idempotent.
type Listener interface {
	Name() string
	Handles(topic string) bool
	Handle(ctx context.Context, event store.OutboxEvent) error
}

type outboxStore interface {
	PendingEvents(ctx context.Context, limit int) ([]store.OutboxEvent, error)
	MarkEventDelivered(ctx context.Context, eventID string, at time.Time) error
	MarkEventFailed(ctx context.Context, eventID, reason string, maxAttempts int) error
}

type RelayOptions struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
}

// Relay polls the outbox and fans events out to listeners.
type Relay struct {
	store     outboxStore
	listeners []Listener
	opts      RelayOptions
	logger    *slog.Logger
	now       func() time.Time
}

type DrainResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

func NewRelay(s outboxStore, listeners []Listener, opts RelayOptions) *Relay {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("pubflow/api/internal/events")
	}
	return &Relay{
		store:     s,
		listeners: slices.Clone(listeners),
		opts:      opts,
		logger:    opts.Logger.With(slog.String(logging.FieldComponent, "outbox")),
		now:       time.Now,
	}
}

// Run drains the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.DrainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("outbox drain failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DrainOnce delivers one batch of pending events.
func (r *Relay) DrainOnce(ctx context.Context) (DrainResult, error) {
	pending, err := r.store.PendingEvents(ctx, r.opts.BatchSize)
	if err != nil {
		return DrainResult{}, fmt.Errorf("load pending events: %w", err)
	}
	var result DrainResult
	for _, event := range pending {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err := r.deliver(ctx, event); err != nil {
			result.Failed++
			if markErr := r.store.MarkEventFailed(ctx, event.ID, err.Error(), r.opts.MaxAttempts); markErr != nil {
				return result, fmt.Errorf("mark event %s failed: %w", event.ID, markErr)
			}
			level := slog.LevelWarn
			if event.Attempts+1 >= r.opts.MaxAttempts {
				level = slog.LevelError
			}
			r.logger.Log(ctx, level, "event delivery failed",
				slog.String(logging.FieldEventID, event.ID),
				slog.String("topic", event.Topic),
				slog.Int("attempt", event.Attempts+1),
				slog.Any("error", err))
			continue
		}
		if err := r.store.MarkEventDelivered(ctx, event.ID, r.now()); err != nil {
			return result, fmt.Errorf("mark event %s delivered: %w", event.ID, err)
		}
		result.Delivered++
	}
	return result, nil
}

func (r *Relay) deliver(ctx context.Context, event store.OutboxEvent) error {
	ctx, span := r.opts.Tracer.Start(ctx, "outbox.dispatch", trace.WithAttributes(
		attribute.String("pubflow.event_id", event.ID),
		attribute.String("pubflow.topic", event.Topic),
		attribute.Int("pubflow.attempt", event.Attempts+1),
	))
	defer span.End()

	var errs []error
	for _, listener := range r.listeners {
		if !listener.Handles(event.Topic) {
			continue
		}
		if err := listener.Handle(ctx, event); err != nil {
			r.opts.Metrics.OutboxDispatched(listener.Name(), "error")
			errs = append(errs, fmt.Errorf("%s: %w", listener.Name(), err))
			continue
		}
		r.opts.Metrics.OutboxDispatched(listener.Name(), "ok")
	}
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		return err
	}
	return nil
}
