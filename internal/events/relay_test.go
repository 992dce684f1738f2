package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"pubflow/api/internal/logging"
	"pubflow/api/internal/metrics"
	"pubflow/api/internal/store"
)

type fakeOutbox struct {
	mu        sync.Mutex
	events    []store.OutboxEvent
	delivered map[string]bool
	dead      map[string]bool
}

func newFakeOutbox(events ...store.OutboxEvent) *fakeOutbox {
	return &fakeOutbox{events: events, delivered: map[string]bool{}, dead: map[string]bool{}}
}

func (f *fakeOutbox) PendingEvents(_ context.Context, limit int) ([]store.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.OutboxEvent, 0)
	for _, event := range f.events {
		if f.delivered[event.ID] || f.dead[event.ID] {
			continue
		}
		out = append(out, event)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeOutbox) MarkEventDelivered(_ context.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered[id] = true
	return nil
}

func (f *fakeOutbox) MarkEventFailed(_ context.Context, id, reason string, maxAttempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.events {
		if f.events[i].ID != id {
			continue
		}
		f.events[i].Attempts++
		f.events[i].LastError = reason
		if f.events[i].Attempts >= maxAttempts {
			f.dead[id] = true
		}
	}
	return nil
}

func mustEvent(t *testing.T, topic, aggregate string) store.OutboxEvent {
	t.Helper()
	event, err := New(topic, aggregate, StageChange{InstanceID: aggregate, ToStageID: "REVIEW"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return event
}

func TestDrainOnceDeliversToMatchingListeners(t *testing.T) {
	advanced := mustEvent(t, TopicStageAdvanced, "wfi_1")
	completed := mustEvent(t, TopicWorkflowCompleted, "wfi_1")
	outbox := newFakeOutbox(advanced, completed)

	var mu sync.Mutex
	seen := map[string][]string{}
	record := func(name string) func(context.Context, store.OutboxEvent) error {
		return func(_ context.Context, event store.OutboxEvent) error {
			mu.Lock()
			defer mu.Unlock()
			seen[name] = append(seen[name], event.Topic)
			return nil
		}
	}
	m := metrics.New()
	relay := NewRelay(outbox, []Listener{
		Func{ListenerName: "all", Fn: record("all")},
		Func{ListenerName: "completed", Topics: []string{TopicWorkflowCompleted}, Fn: record("completed")},
	}, RelayOptions{Logger: logging.Discard(), Metrics: m})

	result, err := relay.DrainOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Delivered != 2 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(seen["all"]) != 2 || len(seen["completed"]) != 1 {
		t.Fatalf("seen = %v", seen)
	}
	series, err := testutil.GatherAndCount(m.Registry(), "pubflow_outbox_dispatched_total")
	if err != nil {
		t.Fatal(err)
	}
	if series != 2 {
		t.Fatalf("expected one series per listener, got %d", series)
	}

	result, err = relay.DrainOnce(context.Background())
	if err != nil || result.Delivered != 0 {
		t.Fatalf("second drain should be empty, got %+v %v", result, err)
	}
}

func TestDrainOnceDeadLettersAfterMaxAttempts(t *testing.T) {
	event := mustEvent(t, TopicStageAdvanced, "wfi_1")
	outbox := newFakeOutbox(event)
	failing := Func{ListenerName: "smtp", Fn: func(context.Context, store.OutboxEvent) error {
		return errors.New("connection refused")
	}}
	relay := NewRelay(outbox, []Listener{failing}, RelayOptions{MaxAttempts: 3, Logger: logging.Discard()})

	for i := 0; i < 3; i++ {
		result, err := relay.DrainOnce(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if result.Failed != 1 {
			t.Fatalf("attempt %d: result = %+v", i+1, result)
		}
	}
	if !outbox.dead[event.ID] {
		t.Fatal("expected event to be dead after 3 attempts")
	}
	if outbox.events[0].LastError == "" {
		t.Fatal("expected last error to be recorded")
	}
	result, _ := relay.DrainOnce(context.Background())
	if result.Failed != 0 || result.Delivered != 0 {
		t.Fatalf("dead event should not be retried, got %+v", result)
	}
}

func TestDeliverRecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	outbox := newFakeOutbox(mustEvent(t, TopicStageAdvanced, "wfi_1"))
	failing := Func{ListenerName: "broken", Fn: func(context.Context, store.OutboxEvent) error {
		return errors.New("boom")
	}}
	relay := NewRelay(outbox, []Listener{failing}, RelayOptions{Logger: logging.Discard(), Tracer: tp.Tracer("test")})
	if _, err := relay.DrainOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "outbox.dispatch" {
		t.Fatalf("span name = %q", spans[0].Name)
	}
	if spans[0].Status.Code != codes.Error {
		t.Fatalf("span status = %v", spans[0].Status)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	outbox := newFakeOutbox()
	relay := NewRelay(outbox, nil, RelayOptions{Interval: 5 * time.Millisecond, Logger: logging.Discard()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestDecodeStageChange(t *testing.T) {
	event := mustEvent(t, TopicStageAdvanced, "wfi_9")
	change, err := DecodeStageChange(event)
	if err != nil {
		t.Fatal(err)
	}
	if change.InstanceID != "wfi_9" || change.ToStageID != "REVIEW" {
		t.Fatalf("change = %+v", change)
	}
	if _, err := DecodeStageChange(store.OutboxEvent{ID: "bad", Payload: []byte("{")}); err == nil {
		t.Fatal("expected decode error")
	}
}
