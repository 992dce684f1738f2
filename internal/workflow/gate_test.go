package workflow

import (
	"reflect"
	"testing"

	"pubflow/api/internal/rbac"
)

func TestCanAct(t *testing.T) {
	draft := Stage{ID: "DRAFT", AllowedRoles: []rbac.Role{rbac.RoleOPR}, AllowedActions: []string{"SUBMIT"}}
	open := Stage{ID: "OPEN", AllowedRoles: []rbac.Role{rbac.RoleAny}, AllowedActions: []string{"COMMENT"}}

	cases := []struct {
		name   string
		role   rbac.Role
		stage  Stage
		action string
		allow  bool
	}{
		{name: "listed role and action", role: rbac.RoleOPR, stage: draft, action: "SUBMIT", allow: true},
		{name: "unlisted role", role: rbac.RoleLegal, stage: draft, action: "SUBMIT", allow: false},
		{name: "undefined action", role: rbac.RoleOPR, stage: draft, action: "APPROVE", allow: false},
		{name: "admin bypasses role", role: rbac.RoleAdmin, stage: draft, action: "SUBMIT", allow: true},
		{name: "admin cannot invent action", role: rbac.RoleAdmin, stage: draft, action: "APPROVE", allow: false},
		{name: "move backward override", role: rbac.RoleWorkflowAdmin, stage: draft, action: ActionMoveBackward, allow: true},
		{name: "move backward regular", role: rbac.RoleOPR, stage: draft, action: ActionMoveBackward, allow: false},
		{name: "wildcard stage", role: rbac.RoleViewer, stage: open, action: "COMMENT", allow: true},
		{name: "wildcard unknown role", role: rbac.Role("INTERN"), stage: open, action: "COMMENT", allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			first := CanAct(tc.role, tc.stage, tc.action)
			second := CanAct(tc.role, tc.stage, tc.action)
			if first != second {
				t.Fatalf("CanAct is not deterministic: %v then %v", first, second)
			}
			if first != tc.allow {
				t.Fatalf("CanAct(%q, %q, %q) = %v, want %v", tc.role, tc.stage.ID, tc.action, first, tc.allow)
			}
		})
	}
}

func TestCanActDoesNotMutateStage(t *testing.T) {
	stage := Stage{ID: "DRAFT", AllowedRoles: []rbac.Role{rbac.RoleOPR}, AllowedActions: []string{"SUBMIT"}}
	before := Stage{ID: "DRAFT", AllowedRoles: []rbac.Role{rbac.RoleOPR}, AllowedActions: []string{"SUBMIT"}}
	for _, role := range rbac.All() {
		for _, action := range []string{"SUBMIT", "APPROVE", ActionMoveBackward} {
			CanAct(role, stage, action)
		}
	}
	if !reflect.DeepEqual(stage, before) {
		t.Fatalf("stage mutated: %+v", stage)
	}
}

func TestAvailableActions(t *testing.T) {
	stage := Stage{ID: "LEGAL", AllowedRoles: []rbac.Role{rbac.RoleLegal}, AllowedActions: []string{"APPROVE", "RETURN"}}
	if got := AvailableActions(rbac.RoleLegal, stage); !reflect.DeepEqual(got, []string{"APPROVE", "RETURN"}) {
		t.Fatalf("legal actions = %v", got)
	}
	if got := AvailableActions(rbac.RoleOPR, stage); len(got) != 0 {
		t.Fatalf("opr actions = %v", got)
	}
	if got := AvailableActions(rbac.RoleAdmin, stage); !reflect.DeepEqual(got, []string{"APPROVE", "RETURN", ActionMoveBackward}) {
		t.Fatalf("admin actions = %v", got)
	}
}
