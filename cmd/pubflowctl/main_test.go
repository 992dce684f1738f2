package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pubflow/api/internal/store"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeSQLiteConfig points the CLI at a fresh database file.
func writeSQLiteConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "pubflow.db")
	configPath := filepath.Join(dir, "pubflow.toml")
	contents := "database_driver = \"sqlite\"\ndatabase_url = \"" + dbPath + "\"\nlog_level = \"error\"\n"
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath, dbPath
}

func TestTemplatesValidateBuiltin(t *testing.T) {
	out, err := runCLI(t, "templates", "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "publication") || !strings.Contains(out, "1 template(s) valid") {
		t.Fatalf("output = %s", out)
	}
}

func TestTemplatesValidateRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	broken := "id: broken\nstages:\n  - id: A\n    allowedActions: [GO]\n    transitions:\n      - { action: GO, to: MISSING }\n"
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(broken), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if _, err := runCLI(t, "templates", "validate", dir); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestTemplatesShow(t *testing.T) {
	configPath, _ := writeSQLiteConfig(t)
	out, err := runCLI(t, "--config", configPath, "templates", "show", "publication")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"COORDINATION", "legalReviewRequired", "(terminal)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestMigrateThenInstanceShowAndDrain(t *testing.T) {
	configPath, _ := writeSQLiteConfig(t)
	if out, err := runCLI(t, "--config", configPath, "migrate"); err != nil || !strings.Contains(out, "Applied sqlite migrations") {
		t.Fatalf("migrate = %q, %v", out, err)
	}

	ctx := context.Background()
	cctx := newCommandContext(&configPath)
	db, dialect, err := cctx.openDB(ctx)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	s := store.NewSQLStore(db, dialect)
	now := time.Now().UTC()
	doc := store.Document{ID: "doc_1", Title: "Pamphlet", CreatedBy: "u1", CreatedAt: now, UpdatedAt: now}
	if err := s.CreateDocument(ctx, doc, store.DocumentVersion{DocumentID: "doc_1", VersionNumber: 1, Content: "Body.", CreatedBy: "u1", CreatedAt: now}); err != nil {
		t.Fatalf("create document: %v", err)
	}
	inst := store.WorkflowInstance{ID: "wfi_1", DocumentID: "doc_1", TemplateID: "publication", CurrentStageID: "DRAFT", Status: store.StatusActive, Version: 1, CreatedAt: now, UpdatedAt: now}
	event := store.OutboxEvent{ID: "evt_1", Topic: "workflow.started", AggregateID: "wfi_1", Payload: []byte(`{"instanceId":"wfi_1"}`), CreatedAt: now}
	if err := s.CreateInstance(ctx, inst, []store.OutboxEvent{event}); err != nil {
		t.Fatalf("create instance: %v", err)
	}
	_ = db.Close()

	out, err := runCLI(t, "--config", configPath, "instance", "show", "wfi_1")
	if err != nil {
		t.Fatalf("instance show: %v", err)
	}
	if !strings.Contains(out, "DRAFT") || !strings.Contains(out, "ACTIVE") {
		t.Fatalf("output = %s", out)
	}

	out, err = runCLI(t, "--config", configPath, "outbox", "drain")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !strings.Contains(out, "Delivered 1 event(s), 0 failed") {
		t.Fatalf("output = %s", out)
	}
}
