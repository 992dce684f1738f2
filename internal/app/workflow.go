package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pubflow/api/internal/auth"
	"pubflow/api/internal/events"
	"pubflow/api/internal/logging"
	"pubflow/api/internal/rbac"
	"pubflow/api/internal/store"
	"pubflow/api/internal/util"
	"pubflow/api/internal/workflow"
)

const actionCancel = "CANCEL"

type AdvanceInput struct {
	Action   string         `json:"action"`
	Comments string         `json:"comments"`
	Payload  map[string]any `json:"payload"`
}

type ActionsView struct {
	InstanceID string               `json:"instanceId"`
	StageID    string               `json:"stageId"`
	Status     store.InstanceStatus `json:"status"`
	Actions    []string             `json:"actions"`
}

func (s *Service) ListTemplates() []workflow.Template {
	templates := s.templates.List()
	out := make([]workflow.Template, 0, len(templates))
	for _, tpl := range templates {
		out = append(out, tpl.Clone())
	}
	return out
}

func (s *Service) GetTemplate(templateID string) (workflow.Template, error) {
	tpl, err := s.templates.Get(templateID)
	if err != nil {
		return workflow.Template{}, err
	}
	return tpl.Clone(), nil
}

// StartWorkflow puts a document at the initial stage of templateID. A
// document has at most one instance.
func (s *Service) StartWorkflow(ctx context.Context, actor auth.Principal, documentID, templateID string) (store.WorkflowInstance, error) {
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		templateID = workflow.DefaultTemplateID
	}
	tpl, err := s.templates.Get(templateID)
	if err != nil {
		return store.WorkflowInstance{}, validationError("templateId", err.Error())
	}
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return store.WorkflowInstance{}, err
	}

	now := s.now()
	initial := tpl.GetInitialStage()
	inst := store.WorkflowInstance{
		ID:             util.NewID("wfi"),
		DocumentID:     documentID,
		TemplateID:     tpl.ID,
		CurrentStageID: initial.ID,
		Status:         store.StatusActive,
		Version:        1,
		Approvals:      []store.Approval{},
		History:        []store.HistoryEntry{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	started, err := events.New(events.TopicWorkflowStarted, inst.ID, events.StageChange{
		InstanceID:   inst.ID,
		DocumentID:   documentID,
		TemplateID:   tpl.ID,
		ToStageID:    initial.ID,
		ToStageName:  initial.Name,
		ActingUserID: actor.UserID,
		ActingRole:   string(actor.Role),
		Notify:       initial.Notify,
		At:           now,
	}, now)
	if err != nil {
		return store.WorkflowInstance{}, err
	}

	err = storageDo(ctx, s, "create_instance", func(ctx context.Context) error {
		return s.store.CreateInstance(ctx, inst, []store.OutboxEvent{started})
	})
	if errors.Is(err, store.ErrConflict) {
		return store.WorkflowInstance{}, domainError(http.StatusConflict, "WORKFLOW_EXISTS", "Document already has a workflow", nil)
	}
	if err != nil {
		return store.WorkflowInstance{}, err
	}
	s.log(ctx).Info("workflow started",
		slog.String(logging.FieldInstanceID, inst.ID),
		slog.String(logging.FieldDocumentID, documentID),
		slog.String("template", tpl.ID))
	return inst, nil
}

func (s *Service) GetInstance(ctx context.Context, instanceID string) (store.WorkflowInstance, error) {
	inst, err := storageCall(ctx, s, "get_instance", func(ctx context.Context) (store.WorkflowInstance, error) {
		return s.store.GetInstance(ctx, instanceID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.WorkflowInstance{}, &InstanceNotFoundError{InstanceID: instanceID}
	}
	return inst, err
}

func (s *Service) GetInstanceByDocument(ctx context.Context, documentID string) (store.WorkflowInstance, error) {
	inst, err := storageCall(ctx, s, "get_instance", func(ctx context.Context) (store.WorkflowInstance, error) {
		return s.store.GetInstanceByDocument(ctx, documentID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.WorkflowInstance{}, domainError(http.StatusNotFound, "NOT_FOUND", "Document has no workflow", nil)
	}
	return inst, err
}

// AvailableActions evaluates the permission gate for every action of the
// current stage.
func (s *Service) AvailableActions(ctx context.Context, actor auth.Principal, instanceID string) (ActionsView, error) {
	inst, err := s.GetInstance(ctx, instanceID)
	if err != nil {
		return ActionsView{}, err
	}
	view := ActionsView{InstanceID: inst.ID, StageID: inst.CurrentStageID, Status: inst.Status, Actions: []string{}}
	if inst.Status != store.StatusActive {
		return view, nil
	}
	tpl, err := s.templates.Get(inst.TemplateID)
	if err != nil {
		return ActionsView{}, err
	}
	stage, err := tpl.GetStage(inst.CurrentStageID)
	if err != nil {
		return ActionsView{}, err
	}
	for _, action := range workflow.AvailableActions(actor.Role, *stage) {
		if stage.Parallel != nil && action == stage.Parallel.Action && !actor.Role.IsOverride() {
			if !slices.Contains(stage.Parallel.RequiredRoles, actor.Role) || hasApproval(inst.Approvals, stage.ID, actor.Role) {
				continue
			}
		}
		view.Actions = append(view.Actions, action)
	}
	return view, nil
}

// Advance applies one transition. The write is conditioned on the version
// read here, so of two concurrent calls from the same stage exactly one
// succeeds and the other gets ConcurrentModificationError.
func (s *Service) Advance(ctx context.Context, instanceID string, actor auth.Principal, input AdvanceInput) (inst store.WorkflowInstance, err error) {
	input.Action = strings.ToUpper(strings.TrimSpace(input.Action))
	ctx, span := s.tracer.Start(ctx, "workflow.Advance", trace.WithAttributes(
		attribute.String("pubflow.instance_id", instanceID),
		attribute.String("pubflow.action", input.Action),
		attribute.String("pubflow.role", string(actor.Role)),
	))
	defer func() {
		if err != nil {
			s.metrics.AdvanceOutcome(advanceErrorLabel(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, advanceErrorLabel(err))
		}
		span.End()
	}()

	if input.Action == "" {
		return store.WorkflowInstance{}, validationError("action", "action is required")
	}
	current, err := s.GetInstance(ctx, instanceID)
	if err != nil {
		return store.WorkflowInstance{}, err
	}
	if current.Status != store.StatusActive {
		return store.WorkflowInstance{}, &InstanceNotActiveError{InstanceID: current.ID, Status: current.Status}
	}
	tpl, err := s.templates.Get(current.TemplateID)
	if err != nil {
		return store.WorkflowInstance{}, err
	}

	step, err := planAdvance(tpl, current, actor, input, s.now())
	if err != nil {
		return store.WorkflowInstance{}, err
	}
	span.SetAttributes(
		attribute.String("pubflow.from_stage", current.CurrentStageID),
		attribute.String("pubflow.to_stage", step.instance.CurrentStageID),
		attribute.String("pubflow.outcome", step.entry.Outcome),
	)

	if err := s.commitInstance(ctx, current, &step); err != nil {
		return store.WorkflowInstance{}, err
	}
	s.metrics.AdvanceOutcome(strings.ToLower(step.entry.Outcome))
	s.log(ctx).Info("workflow advanced",
		slog.String(logging.FieldInstanceID, current.ID),
		slog.String(logging.FieldAction, input.Action),
		slog.String(logging.FieldStage, current.CurrentStageID),
		slog.String("to_stage", step.instance.CurrentStageID),
		slog.String("outcome", step.entry.Outcome))
	return step.instance, nil
}

// Cancel stops an active workflow. Only override roles may cancel.
func (s *Service) Cancel(ctx context.Context, instanceID string, actor auth.Principal, comments string) (store.WorkflowInstance, error) {
	current, err := s.GetInstance(ctx, instanceID)
	if err != nil {
		return store.WorkflowInstance{}, err
	}
	if !actor.Role.IsOverride() {
		return store.WorkflowInstance{}, &workflow.PermissionDeniedError{Role: actor.Role, StageID: current.CurrentStageID, Action: actionCancel}
	}
	if current.Status != store.StatusActive {
		return store.WorkflowInstance{}, &InstanceNotActiveError{InstanceID: current.ID, Status: current.Status}
	}
	tpl, err := s.templates.Get(current.TemplateID)
	if err != nil {
		return store.WorkflowInstance{}, err
	}
	stage, err := tpl.GetStage(current.CurrentStageID)
	if err != nil {
		return store.WorkflowInstance{}, err
	}

	now := s.now()
	step := plannedStep{instance: current, topic: events.TopicWorkflowCancelled}
	step.entry = newEntry(current, *stage, actor, actionCancel, strings.TrimSpace(comments), nil, now)
	step.entry.Outcome = store.OutcomeCancelled
	step.instance.Status = store.StatusCancelled
	step.instance.UpdatedAt = now
	step.instance.History = append(slices.Clone(current.History), step.entry)
	step.to = stage

	if err := s.commitInstance(ctx, current, &step); err != nil {
		return store.WorkflowInstance{}, err
	}
	s.metrics.AdvanceOutcome("cancelled")
	s.log(ctx).Info("workflow cancelled", slog.String(logging.FieldInstanceID, current.ID))
	return step.instance, nil
}

type plannedStep struct {
	instance store.WorkflowInstance
	entry    store.HistoryEntry
	to       *workflow.Stage
	// topic is empty when the step emits no event.
	topic string
}

func newEntry(inst store.WorkflowInstance, stage workflow.Stage, actor auth.Principal, action, comments string, payload map[string]any, now time.Time) store.HistoryEntry {
	return store.HistoryEntry{
		Seq:          len(inst.History) + 1,
		StageID:      stage.ID,
		StageName:    stage.Name,
		ActingUserID: actor.UserID,
		ActingRole:   string(actor.Role),
		Action:       action,
		Timestamp:    now,
		Comments:     comments,
		Payload:      payload,
	}
}

// planAdvance computes the next instance state without touching storage.
// The action must exist at the stage before the role is considered, so an
// undefined action is NoSuchTransitionError for every caller.
func planAdvance(tpl *workflow.Template, inst store.WorkflowInstance, actor auth.Principal, input AdvanceInput, now time.Time) (plannedStep, error) {
	stage, err := tpl.GetStage(inst.CurrentStageID)
	if err != nil {
		return plannedStep{}, err
	}
	action := input.Action
	step := plannedStep{instance: inst}
	step.instance.UpdatedAt = now
	step.entry = newEntry(inst, *stage, actor, action, strings.TrimSpace(input.Comments), input.Payload, now)
	denied := &workflow.PermissionDeniedError{Role: actor.Role, StageID: stage.ID, Action: action}

	if action == workflow.ActionMoveBackward {
		if !workflow.CanAct(actor.Role, *stage, action) {
			return plannedStep{}, denied
		}
		target, _ := input.Payload["targetStageId"].(string)
		target = strings.TrimSpace(target)
		if target == "" {
			return plannedStep{}, validationError("payload.targetStageId", "target stage is required")
		}
		to, err := tpl.GetStage(target)
		if err != nil {
			return plannedStep{}, validationError("payload.targetStageId", fmt.Sprintf("unknown stage %q", target))
		}
		if !tpl.IsEarlier(to.ID, stage.ID) {
			return plannedStep{}, validationError("payload.targetStageId", fmt.Sprintf("stage %q is not before %q", to.ID, stage.ID))
		}
		step.enter(to, store.OutcomeMovedBackward)
		return step, nil
	}

	if !stage.HasAction(action) {
		return plannedStep{}, &workflow.NoSuchTransitionError{StageID: stage.ID, Action: action}
	}
	if !workflow.CanAct(actor.Role, *stage, action) {
		return plannedStep{}, denied
	}

	if stage.Parallel != nil && action == stage.Parallel.Action && !actor.Role.IsOverride() {
		if !slices.Contains(stage.Parallel.RequiredRoles, actor.Role) {
			return plannedStep{}, denied
		}
		if hasApproval(inst.Approvals, stage.ID, actor.Role) {
			return plannedStep{}, validationError("action", fmt.Sprintf("%s already approved stage %s", actor.Role, stage.ID))
		}
		approvals := append(slices.Clone(inst.Approvals), store.Approval{
			StageID: stage.ID, Role: string(actor.Role), UserID: actor.UserID, At: now,
		})
		if !allApproved(stage.Parallel.RequiredRoles, approvals, stage.ID) {
			step.instance.Approvals = approvals
			step.entry.Outcome = store.OutcomeApprovalRecorded
			step.instance.History = append(slices.Clone(inst.History), step.entry)
			step.to = stage
			return step, nil
		}
	}

	to, err := tpl.ResolveNext(stage.ID, action, input.Payload)
	if err != nil {
		return plannedStep{}, err
	}
	if to == nil {
		step.enter(stage, store.OutcomeCompleted)
		return step, nil
	}
	outcome := store.OutcomeAdvanced
	if to.Terminal() {
		outcome = store.OutcomeCompleted
	}
	step.enter(to, outcome)
	return step, nil
}

func (p *plannedStep) enter(to *workflow.Stage, outcome string) {
	p.to = to
	p.instance.CurrentStageID = to.ID
	p.instance.Approvals = []store.Approval{}
	p.entry.ToStageID = to.ID
	p.entry.Outcome = outcome
	p.topic = events.TopicStageAdvanced
	if outcome == store.OutcomeCompleted {
		p.instance.Status = store.StatusCompleted
		p.topic = events.TopicWorkflowCompleted
	}
	p.instance.History = append(slices.Clone(p.instance.History), p.entry)
}

// commitInstance writes step conditioned on the version of current. On
// success step.instance carries the incremented version.
func (s *Service) commitInstance(ctx context.Context, current store.WorkflowInstance, step *plannedStep) error {
	step.instance.Version = current.Version + 1
	update := store.InstanceUpdate{
		Instance:        step.instance,
		ExpectedVersion: current.Version,
		Appended:        []store.HistoryEntry{step.entry},
	}
	if step.topic != "" {
		change := events.StageChange{
			InstanceID:   current.ID,
			DocumentID:   current.DocumentID,
			TemplateID:   current.TemplateID,
			FromStageID:  current.CurrentStageID,
			ToStageID:    step.instance.CurrentStageID,
			Action:       step.entry.Action,
			Outcome:      step.entry.Outcome,
			ActingUserID: step.entry.ActingUserID,
			ActingRole:   step.entry.ActingRole,
			Comments:     step.entry.Comments,
			At:           step.entry.Timestamp,
		}
		if step.to != nil {
			change.ToStageName = step.to.Name
			change.Notify = step.to.Notify
		}
		event, err := events.New(step.topic, current.ID, change, step.entry.Timestamp)
		if err != nil {
			return err
		}
		update.Events = []store.OutboxEvent{event}
	}

	err := storageDo(ctx, s, "update_instance", func(ctx context.Context) error {
		return s.store.UpdateInstance(ctx, update)
	})
	switch {
	case errors.Is(err, store.ErrConflict):
		s.metrics.Conflict()
		return &ConcurrentModificationError{Resource: "workflow instance", ID: current.ID, ExpectedVersion: current.Version}
	case errors.Is(err, store.ErrNotFound):
		return &InstanceNotFoundError{InstanceID: current.ID}
	case err != nil:
		return err
	}
	return nil
}

func hasApproval(approvals []store.Approval, stageID string, role rbac.Role) bool {
	for _, a := range approvals {
		if a.StageID == stageID && a.Role == string(role) {
			return true
		}
	}
	return false
}

func allApproved(required []rbac.Role, approvals []store.Approval, stageID string) bool {
	for _, role := range required {
		if !hasApproval(approvals, stageID, role) {
			return false
		}
	}
	return true
}

func advanceErrorLabel(err error) string {
	var (
		denied       *workflow.PermissionDeniedError
		noTransition *workflow.NoSuchTransitionError
		concurrent   *ConcurrentModificationError
		notFound     *InstanceNotFoundError
		notActive    *InstanceNotActiveError
		invalid      *ValidationError
		timeout      *StorageTimeoutError
	)
	switch {
	case errors.As(err, &denied):
		return "denied"
	case errors.As(err, &noTransition):
		return "no_transition"
	case errors.As(err, &concurrent):
		return "conflict"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &notActive):
		return "not_active"
	case errors.As(err, &invalid):
		return "invalid"
	case errors.As(err, &timeout):
		return "timeout"
	}
	return "error"
}
