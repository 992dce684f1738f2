package rbac

import "strings"

type Role string
type Capability string

// RoleAny in a stage's allowed roles admits every known role.
const RoleAny Role = "*"

const (
	RoleAdmin         Role = "ADMIN"
	RoleWorkflowAdmin Role = "WORKFLOW_ADMIN"
	RoleOPR           Role = "OPR"
	RoleActionOfficer Role = "ACTION_OFFICER"
	RoleAuthor        Role = "AUTHOR"
	RoleCoordinator   Role = "COORDINATOR"
	RoleSubReviewer   Role = "SUB_REVIEWER"
	RoleLegal         Role = "LEGAL"
	RoleLeadership    Role = "LEADERSHIP"
	RolePublisher     Role = "PUBLISHER"
	RoleViewer        Role = "VIEWER"
)

const (
	CapabilityRead    Capability = "read"
	CapabilityComment Capability = "comment"
	CapabilityWrite   Capability = "write"
	CapabilityAdmin   Capability = "admin"
)

var knownRoles = map[Role]struct{}{
	RoleAdmin:         {},
	RoleWorkflowAdmin: {},
	RoleOPR:           {},
	RoleActionOfficer: {},
	RoleAuthor:        {},
	RoleCoordinator:   {},
	RoleSubReviewer:   {},
	RoleLegal:         {},
	RoleLeadership:    {},
	RolePublisher:     {},
	RoleViewer:        {},
}

// IsOverride reports whether the role carries administrative override.
func (r Role) IsOverride() bool {
	return r == RoleAdmin || r == RoleWorkflowAdmin
}

func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

// Parse returns the canonical role for a raw value. Template loading uses it
// so a misspelled role fails once at load time instead of silently never
// matching a user.
func Parse(raw string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if role == RoleAny {
		return role, true
	}
	if !role.Valid() {
		return "", false
	}
	return role, true
}

// Normalize maps request roles onto the closed set; unknown roles become viewers.
func Normalize(raw string) Role {
	role, ok := Parse(raw)
	if !ok || role == RoleAny {
		return RoleViewer
	}
	return role
}

func Can(role Role, capability Capability) bool {
	if role.IsOverride() {
		return true
	}
	switch role {
	case RoleViewer:
		return capability == CapabilityRead
	case RoleOPR, RoleActionOfficer, RoleAuthor, RolePublisher:
		return capability == CapabilityRead || capability == CapabilityComment || capability == CapabilityWrite
	case RoleCoordinator, RoleSubReviewer, RoleLegal, RoleLeadership:
		return capability == CapabilityRead || capability == CapabilityComment
	default:
		return false
	}
}

func All() []Role {
	return []Role{
		RoleAdmin, RoleWorkflowAdmin, RoleOPR, RoleActionOfficer, RoleAuthor,
		RoleCoordinator, RoleSubReviewer, RoleLegal, RoleLeadership, RolePublisher, RoleViewer,
	}
}
