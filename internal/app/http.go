package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pubflow/api/internal/auth"
	"pubflow/api/internal/insights"
	"pubflow/api/internal/logging"
	"pubflow/api/internal/rbac"
	"pubflow/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	auth       *auth.Authenticator
	corsOrigin string
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, authenticator *auth.Authenticator, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		auth:       authenticator,
		corsOrigin: corsOrigin,
		logger:     service.logger.With(slog.String(logging.FieldComponent, "http")),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.service.metrics.Handler().ServeHTTP(w, r)
		return
	}

	principal, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	r = r.WithContext(auth.WithPrincipal(r.Context(), principal))

	parts := splitPath(r.URL.Path)
	if len(parts) > 0 && parts[0] == "api" {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[0] {
	case "documents":
		s.handleDocuments(w, r, principal, parts)
		return
	case "workflow":
		s.handleWorkflow(w, r, principal, parts)
		return
	case "search":
		if len(parts) == 1 && r.Method == http.MethodGet {
			s.handleSearch(w, r, principal)
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, principal auth.Principal, parts []string) {
	if len(parts) == 1 && r.Method == http.MethodGet {
		if !s.allow(w, principal, rbac.CapabilityRead) {
			return
		}
		items, err := s.service.ListDocuments(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		return
	}

	if len(parts) == 1 && r.Method == http.MethodPost {
		if !s.allow(w, principal, rbac.CapabilityWrite) {
			return
		}
		var body CreateDocumentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.CreateDocument(r.Context(), principal, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"document": doc})
		return
	}

	if len(parts) < 2 {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	documentID := parts[1]

	if len(parts) == 2 && r.Method == http.MethodGet {
		if !s.allow(w, principal, rbac.CapabilityRead) {
			return
		}
		doc, err := s.service.GetDocument(r.Context(), documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document": doc})
		return
	}

	if len(parts) == 2 && r.Method == http.MethodDelete {
		if !s.allow(w, principal, rbac.CapabilityAdmin) {
			return
		}
		if err := s.service.DeleteDocument(r.Context(), documentID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
		return
	}

	if len(parts) == 3 && parts[2] == "workflow" && r.Method == http.MethodGet {
		if !s.allow(w, principal, rbac.CapabilityRead) {
			return
		}
		inst, err := s.service.GetInstanceByDocument(r.Context(), documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"instance": inst})
		return
	}

	if len(parts) == 3 && parts[2] == "workflow" && r.Method == http.MethodPost {
		if !s.allow(w, principal, rbac.CapabilityWrite) {
			return
		}
		var body struct {
			TemplateID string `json:"templateId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		inst, err := s.service.StartWorkflow(r.Context(), principal, documentID, body.TemplateID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"instance": inst})
		return
	}

	if len(parts) == 3 && parts[2] == "feedback" && r.Method == http.MethodGet {
		if !s.allow(w, principal, rbac.CapabilityRead) {
			return
		}
		items, err := s.service.ListFeedback(r.Context(), documentID, r.URL.Query().Get("status"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"feedback": items})
		return
	}

	if len(parts) == 3 && parts[2] == "feedback" && r.Method == http.MethodPost {
		if !s.allow(w, principal, rbac.CapabilityComment) {
			return
		}
		var body CreateFeedbackInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateFeedback(r.Context(), principal, documentID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"feedback": item})
		return
	}

	if len(parts) == 4 && parts[2] == "feedback" && parts[3] == "apply" && r.Method == http.MethodPost {
		if !s.allow(w, principal, rbac.CapabilityWrite) {
			return
		}
		var body ApplyFeedbackInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.ApplyFeedback(r.Context(), principal, documentID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if result.HasConflicts() {
			writeJSON(w, http.StatusConflict, map[string]any{
				"code":      "FEEDBACK_CONFLICT",
				"error":     "Some feedback needs manual resolution",
				"conflicts": result.Conflicts,
				"applied":   result.Applied,
				"version":   result.Version,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"version": result.Version, "applied": result.Applied})
		return
	}

	if len(parts) == 5 && parts[2] == "feedback" && parts[4] == "reject" && r.Method == http.MethodPost {
		if !s.allow(w, principal, rbac.CapabilityWrite) {
			return
		}
		item, err := s.service.RejectFeedback(r.Context(), documentID, parts[3])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"feedback": item})
		return
	}

	if len(parts) >= 3 && parts[2] == "versions" && r.Method == http.MethodGet {
		if !s.allow(w, principal, rbac.CapabilityRead) {
			return
		}
		s.handleVersions(w, r, documentID, parts[3:])
		return
	}

	if len(parts) == 3 && parts[2] == "insights" && r.Method == http.MethodGet {
		if !s.allow(w, principal, rbac.CapabilityRead) {
			return
		}
		query := r.URL.Query()
		resp, err := s.service.Insights(r.Context(), documentID, insights.Request{
			OrganizationID: strings.TrimSpace(query.Get("organizationId")),
			TimeRange:      strings.TrimSpace(query.Get("timeRange")),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if len(parts) == 3 && parts[2] == "export" && r.Method == http.MethodGet {
		if !s.allow(w, principal, rbac.CapabilityRead) {
			return
		}
		query := r.URL.Query()
		version := 0
		if raw := strings.TrimSpace(query.Get("version")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "INVALID_VERSION", "version must be a positive integer", nil)
				return
			}
			version = n
		}
		result, err := s.service.Export(r.Context(), documentID, query.Get("format"), version)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request, documentID string, rest []string) {
	if len(rest) == 0 {
		versions, err := s.service.ListVersions(r.Context(), documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
		return
	}

	number, err := strconv.Atoi(rest[0])
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_VERSION", "Version must be a positive integer", nil)
		return
	}

	if len(rest) == 1 {
		version, err := s.service.GetVersion(r.Context(), documentID, number)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"version": version})
		return
	}

	if len(rest) == 2 && rest[1] == "diff" {
		other := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("other")); raw != "" {
			other, err = strconv.Atoi(raw)
			if err != nil || other <= 0 {
				writeError(w, http.StatusBadRequest, "INVALID_VERSION", "other must be a positive integer", nil)
				return
			}
		}
		diff, err := s.service.DiffVersions(r.Context(), documentID, number, other)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, diff)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleWorkflow(w http.ResponseWriter, r *http.Request, principal auth.Principal, parts []string) {
	if len(parts) < 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if parts[1] == "templates" && r.Method == http.MethodGet {
		if len(parts) == 2 {
			writeJSON(w, http.StatusOK, map[string]any{"templates": s.service.ListTemplates()})
			return
		}
		if len(parts) == 3 {
			tpl, err := s.service.GetTemplate(parts[2])
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"template": tpl})
			return
		}
	}

	instanceID := parts[1]

	if len(parts) == 2 && r.Method == http.MethodGet {
		if !s.allow(w, principal, rbac.CapabilityRead) {
			return
		}
		inst, err := s.service.GetInstance(r.Context(), instanceID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"instance": inst})
		return
	}

	if len(parts) == 3 && parts[2] == "advance" && r.Method == http.MethodPost {
		var body AdvanceInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		inst, err := s.service.Advance(r.Context(), instanceID, principal, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"instance": inst})
		return
	}

	if len(parts) == 3 && parts[2] == "cancel" && r.Method == http.MethodPost {
		var body struct {
			Comments string `json:"comments"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		inst, err := s.service.Cancel(r.Context(), instanceID, principal, body.Comments)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"instance": inst})
		return
	}

	if len(parts) == 3 && parts[2] == "actions" && r.Method == http.MethodGet {
		view, err := s.service.AvailableActions(r.Context(), principal, instanceID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, principal auth.Principal) {
	if !s.allow(w, principal, rbac.CapabilityRead) {
		return
	}
	query := r.URL.Query()
	q := strings.TrimSpace(query.Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{Text: q, Limit: limit, Offset: offset}))
}

func (s *HTTPServer) allow(w http.ResponseWriter, principal auth.Principal, capability rbac.Capability) bool {
	if s.service.Can(principal.Role, capability) {
		return true
	}
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	return false
}

func (s *HTTPServer) requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, err := s.auth.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Principal{}, false
	}
	return principal, true
}

// fail writes the mapped error; server errors are logged with their cause.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger).Error("request failed",
			slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("error", err))
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		r = r.WithContext(logging.WithRequestID(r.Context(), requestID))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.LogAttrs(r.Context(), slog.LevelInfo, "request",
			slog.String(logging.FieldRequestID, requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", writer.status),
			slog.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	mapped := asDomainError(err)
	return mapped.Status, mapped.Code, mapped.Message, mapped.Details
}
