// Package workflow holds immutable workflow templates, the permission gate and
// the predicates used by branching stages.
package workflow

import (
	"slices"

	"pubflow/api/internal/rbac"
)

type StageKind string

const (
	KindStandard  StageKind = "standard"
	KindCondition StageKind = "condition"
	KindParallel  StageKind = "parallel"
)

const (
	ActionApprove = "APPROVE"
	// ActionMoveBackward is reserved: only override roles may invoke it and
	// templates may not declare it.
	ActionMoveBackward = "MOVE_BACKWARD"
)

type Transition struct {
	Action string `yaml:"action" json:"action"`
	To     string `yaml:"to" json:"to"`
}

type Condition struct {
	Field    string `yaml:"field" json:"field"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value" json:"value,omitempty"`
	IfTrue   string `yaml:"ifTrue" json:"ifTrue"`
	IfFalse  string `yaml:"ifFalse" json:"ifFalse"`
}

type Parallel struct {
	RequiredRoles []rbac.Role `yaml:"requiredRoles" json:"requiredRoles"`
	Action        string      `yaml:"action" json:"action"`
}

type Stage struct {
	ID             string       `yaml:"id" json:"id"`
	Name           string       `yaml:"name" json:"name"`
	Kind           StageKind    `yaml:"kind" json:"kind"`
	AllowedRoles   []rbac.Role  `yaml:"allowedRoles" json:"allowedRoles"`
	AllowedActions []string     `yaml:"allowedActions" json:"allowedActions"`
	Transitions    []Transition `yaml:"transitions" json:"transitions,omitempty"`
	Condition      *Condition   `yaml:"condition" json:"condition,omitempty"`
	Parallel       *Parallel    `yaml:"parallel" json:"parallel,omitempty"`
	Notify         []string     `yaml:"notify" json:"notify,omitempty"`
}

func (s Stage) HasAction(action string) bool {
	return slices.Contains(s.AllowedActions, action)
}

// Terminal stages have no way out.
func (s Stage) Terminal() bool {
	return s.Kind == KindStandard && len(s.Transitions) == 0
}

func (s Stage) transition(action string) (Transition, bool) {
	for _, tr := range s.Transitions {
		if tr.Action == action {
			return tr, true
		}
	}
	return Transition{}, false
}

// Template is immutable once validated. The first stage is the initial stage
// and slice order is the total stage order used by MOVE_BACKWARD.
type Template struct {
	ID     string  `yaml:"id" json:"id"`
	Name   string  `yaml:"name" json:"name"`
	Stages []Stage `yaml:"stages" json:"stages"`

	index map[string]int
}

func (t *Template) GetStage(stageID string) (*Stage, error) {
	i, ok := t.position(stageID)
	if !ok {
		return nil, &UnknownStageError{TemplateID: t.ID, StageID: stageID}
	}
	return &t.Stages[i], nil
}

func (t *Template) GetInitialStage() *Stage {
	if len(t.Stages) == 0 {
		return nil
	}
	return &t.Stages[0]
}

// GetNextStage resolves the stage reached by action without a payload, so
// condition stages take their false branch. A nil stage with a nil error
// means the stage is terminal and the action completes the workflow.
func (t *Template) GetNextStage(stageID, action string) (*Stage, error) {
	return t.ResolveNext(stageID, action, nil)
}

func (t *Template) ResolveNext(stageID, action string, payload map[string]any) (*Stage, error) {
	stage, err := t.GetStage(stageID)
	if err != nil {
		return nil, err
	}
	if !stage.HasAction(action) {
		return nil, &NoSuchTransitionError{StageID: stageID, Action: action}
	}
	switch stage.Kind {
	case KindCondition:
		target := stage.Condition.IfFalse
		if stage.Condition.Evaluate(payload) {
			target = stage.Condition.IfTrue
		}
		return t.GetStage(target)
	default:
		if stage.Terminal() {
			return nil, nil
		}
		tr, ok := stage.transition(action)
		if !ok {
			return nil, &NoSuchTransitionError{StageID: stageID, Action: action}
		}
		return t.GetStage(tr.To)
	}
}

// IsEarlier reports whether target precedes current in stage order.
func (t *Template) IsEarlier(target, current string) bool {
	ti, ok := t.position(target)
	if !ok {
		return false
	}
	ci, ok := t.position(current)
	if !ok {
		return false
	}
	return ti < ci
}

func (t *Template) position(stageID string) (int, bool) {
	if t.index == nil {
		for i := range t.Stages {
			if t.Stages[i].ID == stageID {
				return i, true
			}
		}
		return 0, false
	}
	i, ok := t.index[stageID]
	return i, ok
}

// Clone returns a deep copy safe to hand to callers.
func (t *Template) Clone() Template {
	out := Template{ID: t.ID, Name: t.Name, Stages: make([]Stage, len(t.Stages))}
	for i, s := range t.Stages {
		c := s
		c.AllowedRoles = slices.Clone(s.AllowedRoles)
		c.AllowedActions = slices.Clone(s.AllowedActions)
		c.Transitions = slices.Clone(s.Transitions)
		c.Notify = slices.Clone(s.Notify)
		if s.Condition != nil {
			cond := *s.Condition
			c.Condition = &cond
		}
		if s.Parallel != nil {
			par := *s.Parallel
			par.RequiredRoles = slices.Clone(s.Parallel.RequiredRoles)
			c.Parallel = &par
		}
		out.Stages[i] = c
	}
	out.index = t.index
	return out
}
