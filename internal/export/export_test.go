package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pubflow/api/internal/store"
)

type fakeStore struct {
	doc      store.Document
	versions map[int]store.DocumentVersion
	instance *store.WorkflowInstance
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	if id != f.doc.ID {
		return store.Document{}, store.ErrNotFound
	}
	return f.doc, nil
}

func (f *fakeStore) GetVersion(_ context.Context, _ string, number int) (store.DocumentVersion, error) {
	v, ok := f.versions[number]
	if !ok {
		return store.DocumentVersion{}, store.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) LatestVersion(_ context.Context, _ string) (store.DocumentVersion, error) {
	latest := store.DocumentVersion{}
	for _, v := range f.versions {
		if v.VersionNumber > latest.VersionNumber {
			latest = v
		}
	}
	if latest.VersionNumber == 0 {
		return latest, store.ErrNotFound
	}
	return latest, nil
}

func (f *fakeStore) GetInstanceByDocument(context.Context, string) (store.WorkflowInstance, error) {
	if f.instance == nil {
		return store.WorkflowInstance{}, store.ErrNotFound
	}
	return *f.instance, nil
}

func newFakeStore() *fakeStore {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &fakeStore{
		doc: store.Document{ID: "doc_1", Title: "ATP 5-19 Risk Management"},
		versions: map[int]store.DocumentVersion{
			1: {DocumentID: "doc_1", VersionNumber: 1, Content: "First draft.", CreatedBy: "u_opr", CreatedAt: at},
			2: {DocumentID: "doc_1", VersionNumber: 2, Content: "Purpose <scope>\nline two\n\nSecond paragraph.\fAnnex A", CreatedBy: "u_opr", CreatedAt: at},
		},
	}
}

func TestContentToHTML(t *testing.T) {
	got := ContentToHTML("Purpose <scope>\nline two\n\nSecond paragraph.\fAnnex A")
	want := `<section class="page"><p>Purpose &lt;scope&gt;<br>line two</p><p>Second paragraph.</p></section>` +
		`<section class="page"><p>Annex A</p></section>`
	if got != want {
		t.Fatalf("ContentToHTML() =\n%s\nwant\n%s", got, want)
	}
	if ContentToHTML("") != "" {
		t.Fatal("empty content should render nothing")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"ATP 5-19 v2", "ATP-5-19-v2"},
		{"Special!@#Chars", "SpecialChars"},
		{"", "document"},
		{"!!!", "document"},
		{strings.Repeat("a", 80), strings.Repeat("a", 60)},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.input); got != tt.expected {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestDataURLEncodesSpaces(t *testing.T) {
	got := dataURL("<p>a b</p>")
	if got != "data:text/html;charset=utf-8,%3Cp%3Ea%20b%3C%2Fp%3E" {
		t.Fatalf("dataURL = %s", got)
	}
}

func TestExportHTMLWithHistory(t *testing.T) {
	fs := newFakeStore()
	fs.instance = &store.WorkflowInstance{
		CurrentStageID: "PUBLISHED",
		History: []store.HistoryEntry{
			{StageName: "Legal review", Action: "APPROVE", ActingRole: "LEGAL", Outcome: "ADVANCED", Comments: "No issues", Timestamp: time.Now()},
		},
	}
	svc := NewService(fs)

	result, err := svc.Export(context.Background(), Request{DocumentID: "doc_1", IncludeHistory: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	html := string(result.Data)
	for _, want := range []string{"ATP 5-19 Risk Management", "Version 2", "PUBLISHED", "Purpose &lt;scope&gt;<br>line two", "Review history", "No issues"} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q", want)
		}
	}
	if result.Filename != "ATP-5-19-Risk-Management-v2.html" || !strings.HasPrefix(result.MimeType, "text/html") {
		t.Fatalf("result = %s %s", result.Filename, result.MimeType)
	}
}

func TestExportSpecificVersionWithoutWorkflow(t *testing.T) {
	svc := NewService(newFakeStore())
	result, err := svc.Export(context.Background(), Request{DocumentID: "doc_1", Version: 1, Format: FormatHTML, IncludeHistory: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	html := string(result.Data)
	if !strings.Contains(html, "First draft.") || strings.Contains(html, "Review history") {
		t.Fatalf("unexpected html: %s", html)
	}
	if _, err := svc.Export(context.Background(), Request{DocumentID: "doc_1", Version: 9}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing version error = %v", err)
	}
}

func TestExportDelegatesBinaryFormats(t *testing.T) {
	svc := NewService(newFakeStore())
	var rendered string
	svc.pdf = func(_ context.Context, html, title string) (*Result, error) {
		rendered = html
		return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}
	result, err := svc.Export(context.Background(), Request{DocumentID: "doc_1", Format: FormatPDF})
	if err != nil {
		t.Fatalf("export pdf: %v", err)
	}
	if result.MimeType != "application/pdf" || !strings.Contains(rendered, "Second paragraph.") {
		t.Fatalf("pdf result = %+v", result)
	}

	svc.docx = func(context.Context, string, string) (*Result, error) {
		return nil, ErrDOCXDependencyMissing
	}
	if _, err := svc.Export(context.Background(), Request{DocumentID: "doc_1", Format: FormatDOCX}); !errors.Is(err, ErrDOCXDependencyMissing) {
		t.Fatalf("docx error = %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{"": FormatHTML, "PDF": FormatPDF, " docx ": FormatDOCX, "html": FormatHTML} {
		got, err := ParseFormat(raw)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseFormat("odt"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
