package workflow

import (
	"fmt"
	"slices"
	"strings"

	"pubflow/api/internal/rbac"
)

// Validate normalizes the template in place and rejects structural problems.
// It must run once before the template is used.
func (t *Template) Validate() error {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return &StructuralError{Reason: "template id is required"}
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	if len(t.Stages) == 0 {
		return &StructuralError{TemplateID: t.ID, Reason: "template has no stages"}
	}

	index := make(map[string]int, len(t.Stages))
	for i := range t.Stages {
		stage := &t.Stages[i]
		stage.ID = strings.TrimSpace(stage.ID)
		if stage.ID == "" {
			return &StructuralError{TemplateID: t.ID, Reason: fmt.Sprintf("stage %d has no id", i)}
		}
		if _, dup := index[stage.ID]; dup {
			return &StructuralError{TemplateID: t.ID, StageID: stage.ID, Reason: "duplicate stage id"}
		}
		index[stage.ID] = i
		if err := normalizeStage(stage); err != nil {
			return &StructuralError{TemplateID: t.ID, StageID: stage.ID, Reason: err.Error()}
		}
	}
	t.index = index

	terminals := 0
	inbound := make(map[string]int, len(t.Stages))
	for _, stage := range t.Stages {
		targets, err := stageTargets(stage)
		if err != nil {
			return &StructuralError{TemplateID: t.ID, StageID: stage.ID, Reason: err.Error()}
		}
		for _, target := range targets {
			if _, ok := index[target]; !ok {
				return &StructuralError{TemplateID: t.ID, StageID: stage.ID, Reason: fmt.Sprintf("transition targets unknown stage %q", target)}
			}
			if target != stage.ID {
				inbound[target]++
			}
		}
		if stage.Terminal() {
			terminals++
		}
	}
	if terminals == 0 {
		return &StructuralError{TemplateID: t.ID, Reason: "template has no terminal stage"}
	}

	for i, stage := range t.Stages {
		if i > 0 && inbound[stage.ID] == 0 {
			return &StructuralError{TemplateID: t.ID, StageID: stage.ID, Reason: "orphaned stage has no inbound transitions"}
		}
	}

	reached := t.reachable()
	for _, stage := range t.Stages {
		if !reached[stage.ID] {
			return &StructuralError{TemplateID: t.ID, StageID: stage.ID, Reason: "stage is unreachable from the initial stage"}
		}
	}
	return nil
}

func normalizeStage(stage *Stage) error {
	if stage.Name == "" {
		stage.Name = stage.ID
	}
	if stage.Kind == "" {
		stage.Kind = KindStandard
	}
	switch stage.Kind {
	case KindStandard, KindCondition, KindParallel:
	default:
		return fmt.Errorf("unknown stage kind %q", stage.Kind)
	}

	roles := make([]rbac.Role, 0, len(stage.AllowedRoles))
	for _, raw := range stage.AllowedRoles {
		role, ok := rbac.Parse(string(raw))
		if !ok {
			return fmt.Errorf("unknown role %q", raw)
		}
		if !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	stage.AllowedRoles = roles

	actions := make([]string, 0, len(stage.AllowedActions))
	for _, raw := range stage.AllowedActions {
		action := strings.ToUpper(strings.TrimSpace(raw))
		if action == "" {
			return fmt.Errorf("empty action name")
		}
		if action == ActionMoveBackward {
			return fmt.Errorf("%s is reserved for override roles", ActionMoveBackward)
		}
		if !slices.Contains(actions, action) {
			actions = append(actions, action)
		}
	}
	stage.AllowedActions = actions

	seen := make(map[string]bool, len(stage.Transitions))
	for i := range stage.Transitions {
		tr := &stage.Transitions[i]
		tr.Action = strings.ToUpper(strings.TrimSpace(tr.Action))
		tr.To = strings.TrimSpace(tr.To)
		if !stage.HasAction(tr.Action) {
			return fmt.Errorf("transition action %q is not an allowed action", tr.Action)
		}
		if seen[tr.Action] {
			return fmt.Errorf("action %q has more than one transition", tr.Action)
		}
		seen[tr.Action] = true
	}
	if stage.Kind != KindCondition && len(stage.Transitions) > 0 {
		for _, action := range stage.AllowedActions {
			if !seen[action] {
				return fmt.Errorf("allowed action %q has no transition", action)
			}
		}
	}

	if stage.Kind == KindParallel {
		if stage.Parallel == nil || len(stage.Parallel.RequiredRoles) == 0 {
			return fmt.Errorf("parallel stage needs required roles")
		}
		if stage.Parallel.Action == "" {
			stage.Parallel.Action = ActionApprove
		}
		stage.Parallel.Action = strings.ToUpper(stage.Parallel.Action)
		required := make([]rbac.Role, 0, len(stage.Parallel.RequiredRoles))
		for _, raw := range stage.Parallel.RequiredRoles {
			role, ok := rbac.Parse(string(raw))
			if !ok || role == rbac.RoleAny {
				return fmt.Errorf("invalid required role %q", raw)
			}
			required = append(required, role)
		}
		stage.Parallel.RequiredRoles = required
		if _, ok := stage.transition(stage.Parallel.Action); !ok {
			return fmt.Errorf("parallel action %q has no transition", stage.Parallel.Action)
		}
	}
	return nil
}

func stageTargets(stage Stage) ([]string, error) {
	switch stage.Kind {
	case KindCondition:
		if stage.Condition == nil {
			return nil, fmt.Errorf("condition stage has no condition")
		}
		if len(stage.Transitions) > 0 {
			return nil, fmt.Errorf("condition stage may not declare transitions")
		}
		if len(stage.AllowedActions) == 0 {
			return nil, fmt.Errorf("condition stage needs an action")
		}
		if err := validateCondition(stage.Condition); err != nil {
			return nil, err
		}
		if stage.Condition.IfTrue == "" || stage.Condition.IfFalse == "" {
			return nil, fmt.Errorf("condition stage needs both branches")
		}
		return []string{stage.Condition.IfTrue, stage.Condition.IfFalse}, nil
	default:
		targets := make([]string, 0, len(stage.Transitions))
		for _, tr := range stage.Transitions {
			targets = append(targets, tr.To)
		}
		return targets, nil
	}
}

func (t *Template) reachable() map[string]bool {
	seen := map[string]bool{t.Stages[0].ID: true}
	queue := []string{t.Stages[0].ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		targets, _ := stageTargets(t.Stages[t.index[id]])
		for _, target := range targets {
			if !seen[target] {
				seen[target] = true
				queue = append(queue, target)
			}
		}
	}
	return seen
}
