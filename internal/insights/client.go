// Package insights calls the external decision-support service. The service
// is optional: every failure degrades to a static fallback.
package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pubflow/api/internal/logging"
)

const (
	SourceService  = "service"
	SourceFallback = "fallback"
)

type Request struct {
	DocumentID     string `json:"documentId"`
	OrganizationID string `json:"organizationId"`
	TimeRange      string `json:"timeRange"`
}

type Recommendation struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    string  `json:"priority"`
	Confidence  float64 `json:"confidence"`
}

type Response struct {
	Recommendations []Recommendation   `json:"recommendations"`
	Metrics         map[string]float64 `json:"metrics"`
	Source          string             `json:"source"`
	GeneratedAt     time.Time          `json:"generatedAt"`
}

type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewClient returns a client that always falls back when url is empty.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		url:    strings.TrimSpace(url),
		http:   &http.Client{Timeout: timeout},
		logger: logger.With(slog.String(logging.FieldComponent, "insights")),
		now:    time.Now,
	}
}

// Insights never fails. Errors are logged and replaced by Fallback.
func (c *Client) Insights(ctx context.Context, req Request) Response {
	if req.TimeRange == "" {
		req.TimeRange = "30d"
	}
	if c.url == "" {
		return Fallback(req, c.now())
	}
	resp, err := c.fetch(ctx, req)
	if err != nil {
		c.logger.WarnContext(ctx, "insight service unavailable, using fallback",
			slog.String(logging.FieldDocumentID, req.DocumentID), slog.Any("error", err))
		return Fallback(req, c.now())
	}
	return resp
}

func (c *Client) fetch(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("call insight service: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, res.Body)
		return Response{}, fmt.Errorf("insight service returned %d", res.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode insight response: %w", err)
	}
	if out.Recommendations == nil {
		out.Recommendations = []Recommendation{}
	}
	if out.Metrics == nil {
		out.Metrics = map[string]float64{}
	}
	out.Source = SourceService
	if out.GeneratedAt.IsZero() {
		out.GeneratedAt = c.now()
	}
	return out, nil
}

// Fallback is the static panel shown when the service is absent.
func Fallback(req Request, now time.Time) Response {
	return Response{
		Recommendations: []Recommendation{
			{
				ID:          "fallback-coordination",
				Title:       "Start coordination early",
				Description: "Route the draft to coordinators before legal review to shorten the review cycle.",
				Priority:    "medium",
				Confidence:  0.5,
			},
			{
				ID:          "fallback-feedback",
				Title:       "Resolve pending feedback",
				Description: "Apply or reject pending reviewer feedback before requesting leadership approval.",
				Priority:    "high",
				Confidence:  0.5,
			},
		},
		Metrics: map[string]float64{
			"averageReviewDays": 7,
			"approvalRate":      0.8,
			"pendingFeedback":   0,
		},
		Source:      SourceFallback,
		GeneratedAt: now,
	}
}
