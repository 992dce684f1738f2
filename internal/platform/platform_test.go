package platform

import (
	"context"
	"testing"
	"time"

	"pubflow/api/internal/config"
	"pubflow/api/internal/events"
	"pubflow/api/internal/logging"
	"pubflow/api/internal/search"
	"pubflow/api/internal/store"
)

func TestOpenWithOnlyRequiredBackends(t *testing.T) {
	cfg := config.Default()
	cfg.DatabaseDriver = "sqlite"
	cfg.DatabaseURL = ":memory:"

	ctx := context.Background()
	p, err := Open(ctx, cfg, logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	names := map[string]bool{}
	for _, listener := range p.Listeners {
		names[listener.Name()] = true
	}
	for _, want := range []string{"log", "email", "publisher"} {
		if !names[want] {
			t.Fatalf("missing listener %q in %v", want, names)
		}
	}
	if names["redis"] {
		t.Fatal("redis listener wired without REDIS_URL")
	}
	if _, err := p.Templates.Get("publication"); err != nil {
		t.Fatalf("builtin template missing: %v", err)
	}
	if got := p.Search.Search(ctx, search.Query{Text: "anything"}); got.Source != search.SourceSQL {
		t.Fatalf("search source = %s", got.Source)
	}

	now := time.Now().UTC()
	doc := store.Document{ID: "doc_1", Title: "Field manual", CreatedBy: "u1", CreatedAt: now, UpdatedAt: now}
	first := store.DocumentVersion{DocumentID: doc.ID, VersionNumber: 1, Content: "Body.", CreatedBy: "u1", CreatedAt: now}
	if err := p.Store.CreateDocument(ctx, doc, first); err != nil {
		t.Fatalf("create document: %v", err)
	}
	event, err := events.New(events.TopicWorkflowStarted, "wfi_1", events.StageChange{InstanceID: "wfi_1", DocumentID: doc.ID}, now)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	inst := store.WorkflowInstance{ID: "wfi_1", DocumentID: doc.ID, TemplateID: "publication", CurrentStageID: "DRAFT", Status: store.StatusActive, Version: 1, CreatedAt: now, UpdatedAt: now}
	if err := p.Store.CreateInstance(ctx, inst, []store.OutboxEvent{event}); err != nil {
		t.Fatalf("create instance: %v", err)
	}

	result, err := p.Relay().DrainOnce(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.Delivered != 1 || result.Failed != 0 {
		t.Fatalf("drain result = %+v", result)
	}
}
