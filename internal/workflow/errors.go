package workflow

import (
	"fmt"

	"pubflow/api/internal/rbac"
)

type UnknownStageError struct {
	TemplateID string
	StageID    string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("workflow: template %q has no stage %q", e.TemplateID, e.StageID)
}

type UnknownTemplateError struct {
	TemplateID string
}

func (e *UnknownTemplateError) Error() string {
	return fmt.Sprintf("workflow: unknown template %q", e.TemplateID)
}

type NoSuchTransitionError struct {
	StageID string
	Action  string
}

func (e *NoSuchTransitionError) Error() string {
	return fmt.Sprintf("workflow: action %q is not valid from stage %q", e.Action, e.StageID)
}

// StructuralError rejects a template at load time.
type StructuralError struct {
	TemplateID string
	StageID    string
	Reason     string
}

func (e *StructuralError) Error() string {
	if e.StageID == "" {
		return fmt.Sprintf("workflow: template %q: %s", e.TemplateID, e.Reason)
	}
	return fmt.Sprintf("workflow: template %q stage %q: %s", e.TemplateID, e.StageID, e.Reason)
}

type PermissionDeniedError struct {
	Role    rbac.Role
	StageID string
	Action  string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("workflow: role %q may not %s at stage %q", e.Role, e.Action, e.StageID)
}
