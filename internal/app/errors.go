package app

import (
	"errors"
	"fmt"
	"net/http"

	"pubflow/api/internal/export"
	"pubflow/api/internal/feedback"
	"pubflow/api/internal/store"
	"pubflow/api/internal/workflow"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

type InstanceNotFoundError struct {
	InstanceID string
}

func (e *InstanceNotFoundError) Error() string {
	return fmt.Sprintf("workflow instance %q not found", e.InstanceID)
}

type InstanceNotActiveError struct {
	InstanceID string
	Status     store.InstanceStatus
}

func (e *InstanceNotActiveError) Error() string {
	return fmt.Sprintf("workflow instance %q is %s", e.InstanceID, e.Status)
}

// ConcurrentModificationError means another writer changed the instance (or
// document) after it was read. Callers retry from a fresh read.
type ConcurrentModificationError struct {
	Resource        string
	ID              string
	ExpectedVersion int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %q was modified concurrently (expected version %d)", e.Resource, e.ID, e.ExpectedVersion)
}

type StorageTimeoutError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *StorageTimeoutError) Error() string {
	return fmt.Sprintf("storage %s timed out after %d attempt(s)", e.Op, e.Attempts)
}

func (e *StorageTimeoutError) Unwrap() error {
	return e.Err
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// asDomainError translates every typed error into its HTTP shape. Internal
// detail never leaks into 5xx responses.
func asDomainError(err error) *DomainError {
	var (
		domainErr    *DomainError
		denied       *workflow.PermissionDeniedError
		noTransition *workflow.NoSuchTransitionError
		unknownStage *workflow.UnknownStageError
		unknownTpl   *workflow.UnknownTemplateError
		notFound     *InstanceNotFoundError
		notActive    *InstanceNotActiveError
		concurrent   *ConcurrentModificationError
		timeout      *StorageTimeoutError
		invalid      *ValidationError
	)
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.As(err, &denied):
		return domainError(http.StatusForbidden, "PERMISSION_DENIED", "Permission denied", map[string]any{
			"role": denied.Role, "stageId": denied.StageID, "action": denied.Action,
		})
	case errors.As(err, &noTransition):
		return domainError(http.StatusUnprocessableEntity, "NO_SUCH_TRANSITION", noTransition.Error(), map[string]any{
			"stageId": noTransition.StageID, "action": noTransition.Action,
		})
	case errors.As(err, &notFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Workflow instance not found", nil)
	case errors.As(err, &unknownTpl):
		return domainError(http.StatusNotFound, "NOT_FOUND", unknownTpl.Error(), nil)
	case errors.As(err, &unknownStage):
		return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
	case errors.As(err, &notActive):
		return domainError(http.StatusConflict, "INSTANCE_NOT_ACTIVE", notActive.Error(), map[string]any{"status": notActive.Status})
	case errors.As(err, &concurrent):
		return domainError(http.StatusConflict, "CONCURRENT_MODIFICATION", "Modified concurrently, retry with a fresh read", nil)
	case errors.As(err, &timeout):
		return domainError(http.StatusServiceUnavailable, "STORAGE_TIMEOUT", "Storage timed out, retry later", nil)
	case errors.As(err, &invalid):
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", invalid.Error(), nil)
	case errors.Is(err, feedback.ErrUnknownStrategy), errors.Is(err, feedback.ErrInvalidResolution):
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil)
	case errors.Is(err, store.ErrTimeout):
		return domainError(http.StatusServiceUnavailable, "STORAGE_TIMEOUT", "Storage timed out, retry later", nil)
	case errors.Is(err, store.ErrNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, store.ErrConflict):
		return domainError(http.StatusConflict, "CONFLICT", "Conflict", nil)
	}
	return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
}
