package workflow

import (
	"slices"

	"pubflow/api/internal/rbac"
)

// CanAct is the permission gate. It never mutates its inputs.
func CanAct(role rbac.Role, stage Stage, action string) bool {
	if action == ActionMoveBackward {
		return role.IsOverride()
	}
	if !stage.HasAction(action) {
		return false
	}
	if role.IsOverride() {
		return true
	}
	if !role.Valid() {
		return false
	}
	return slices.Contains(stage.AllowedRoles, role) || slices.Contains(stage.AllowedRoles, rbac.RoleAny)
}

// AvailableActions lists the actions role may invoke at stage, in template order.
func AvailableActions(role rbac.Role, stage Stage) []string {
	out := make([]string, 0, len(stage.AllowedActions)+1)
	for _, action := range stage.AllowedActions {
		if CanAct(role, stage, action) {
			out = append(out, action)
		}
	}
	if role.IsOverride() {
		out = append(out, ActionMoveBackward)
	}
	return out
}
