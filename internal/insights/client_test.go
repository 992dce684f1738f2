package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pubflow/api/internal/logging"
)

func TestInsightsFromService(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"recommendations": []map[string]any{{"id": "r1", "title": "Tighten scope"}},
			"metrics":         map[string]float64{"approvalRate": 0.9},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, logging.Discard())
	resp := client.Insights(context.Background(), Request{DocumentID: "doc_1", OrganizationID: "org_1"})
	if resp.Source != SourceService {
		t.Fatalf("source = %q", resp.Source)
	}
	if len(resp.Recommendations) != 1 || resp.Metrics["approvalRate"] != 0.9 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.DocumentID != "doc_1" || got.OrganizationID != "org_1" || got.TimeRange != "30d" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestInsightsFallback(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer garbage.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()

	cases := []struct {
		name    string
		url     string
		timeout time.Duration
	}{
		{name: "unconfigured", url: ""},
		{name: "error status", url: failing.URL, timeout: time.Second},
		{name: "bad body", url: garbage.URL, timeout: time.Second},
		{name: "timeout", url: slow.URL, timeout: 20 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(tc.url, tc.timeout, logging.Discard())
			resp := client.Insights(context.Background(), Request{DocumentID: "doc_1"})
			if resp.Source != SourceFallback {
				t.Fatalf("source = %q", resp.Source)
			}
			if len(resp.Recommendations) == 0 || len(resp.Metrics) == 0 {
				t.Fatalf("fallback should carry static values, got %+v", resp)
			}
		})
	}
}

func TestFallbackWarningCarriesComponent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	resp := NewClient(srv.URL, time.Second, logger).Insights(context.Background(), Request{DocumentID: "doc_9"})
	if resp.Source != SourceFallback {
		t.Fatalf("source = %q", resp.Source)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("decode log %q: %v", buf.String(), err)
	}
	if entry[logging.FieldComponent] != "insights" || entry[logging.FieldDocumentID] != "doc_9" {
		t.Fatalf("log entry = %v", entry)
	}
}
