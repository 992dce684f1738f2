package email

import (
	"context"
	"fmt"
	"log/slog"

	"pubflow/api/internal/events"
	"pubflow/api/internal/store"
)

// StageNotifier mails the addresses a template lists for the stage a
// workflow just entered.
type StageNotifier struct {
	mailer  *Service
	appName string
	logger  *slog.Logger
}

func NewStageNotifier(mailer *Service, appName string, logger *slog.Logger) *StageNotifier {
	if appName == "" {
		appName = "Pubflow"
	}
	return &StageNotifier{mailer: mailer, appName: appName, logger: logger}
}

func (n *StageNotifier) Name() string { return "email" }

func (n *StageNotifier) Handles(topic string) bool {
	switch topic {
	case events.TopicWorkflowStarted, events.TopicStageAdvanced, events.TopicWorkflowCompleted:
		return true
	}
	return false
}

func (n *StageNotifier) Handle(ctx context.Context, event store.OutboxEvent) error {
	change, err := events.DecodeStageChange(event)
	if err != nil {
		return err
	}
	if len(change.Notify) == 0 {
		return nil
	}
	if !n.mailer.IsConfigured() {
		n.logger.DebugContext(ctx, "smtp not configured, skipping stage notification",
			slog.String("event_id", event.ID), slog.Int("recipients", len(change.Notify)))
		return nil
	}

	stageName := change.ToStageName
	if stageName == "" {
		stageName = change.ToStageID
	}
	data := StageData{
		AppName:     n.appName,
		DocumentID:  change.DocumentID,
		InstanceID:  change.InstanceID,
		StageName:   stageName,
		FromStageID: change.FromStageID,
		Action:      change.Action,
		Outcome:     change.Outcome,
		ActingRole:  change.ActingRole,
		Comments:    change.Comments,
	}
	html, err := renderTemplate(stageEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render stage template: %w", err)
	}
	subject := fmt.Sprintf("[%s] Document %s: %s", n.appName, change.DocumentID, stageName)
	text := fmt.Sprintf("Document %s is now at %s (%s by %s).", change.DocumentID, stageName, change.Action, change.ActingRole)
	if err := n.mailer.SendHTMLEmail(change.Notify, subject, text, html); err != nil {
		return fmt.Errorf("send stage notification: %w", err)
	}
	return nil
}
