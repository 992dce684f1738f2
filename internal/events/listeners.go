package events

import (
	"context"
	"log/slog"
	"slices"

	"pubflow/api/internal/logging"
	"pubflow/api/internal/store"
)

// Func adapts a function to a Listener. An empty topic list matches every topic.
type Func struct {
	ListenerName string
	Topics       []string
	Fn           func(ctx context.Context, event store.OutboxEvent) error
}

func (f Func) Name() string { return f.ListenerName }

func (f Func) Handles(topic string) bool {
	return len(f.Topics) == 0 || slices.Contains(f.Topics, topic)
}

func (f Func) Handle(ctx context.Context, event store.OutboxEvent) error {
	return f.Fn(ctx, event)
}

// LogListener writes one structured line per event.
type LogListener struct {
	logger *slog.Logger
}

func NewLogListener(logger *slog.Logger) *LogListener {
	return &LogListener{logger: logger.With(slog.String(logging.FieldComponent, "events"))}
}

func (l *LogListener) Name() string { return "log" }

func (l *LogListener) Handles(string) bool { return true }

func (l *LogListener) Handle(ctx context.Context, event store.OutboxEvent) error {
	l.logger.InfoContext(ctx, "event",
		slog.String(logging.FieldEventID, event.ID),
		slog.String("topic", event.Topic),
		slog.String("aggregate_id", event.AggregateID),
		slog.Int("attempts", event.Attempts))
	return nil
}
