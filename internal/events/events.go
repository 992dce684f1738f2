// Package events defines the outbox topics and delivers committed events to
// listeners. Rows are written in the same transaction as the state change
// they describe; delivery happens afterwards and never rolls anything back.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"pubflow/api/internal/store"
	"pubflow/api/internal/util"
)

const (
	TopicWorkflowStarted   = "workflow.started"
	TopicStageAdvanced     = "workflow.stage_advanced"
	TopicWorkflowCompleted = "workflow.completed"
	TopicWorkflowCancelled = "workflow.cancelled"
	TopicFeedbackApplied   = "feedback.applied"
)

// StageChange is the payload of every workflow.* topic.
type StageChange struct {
	InstanceID   string    `json:"instanceId"`
	DocumentID   string    `json:"documentId"`
	TemplateID   string    `json:"templateId"`
	FromStageID  string    `json:"fromStageId,omitempty"`
	ToStageID    string    `json:"toStageId"`
	ToStageName  string    `json:"toStageName,omitempty"`
	Action       string    `json:"action,omitempty"`
	Outcome      string    `json:"outcome,omitempty"`
	ActingUserID string    `json:"actingUserId"`
	ActingRole   string    `json:"actingRole"`
	Comments     string    `json:"comments,omitempty"`
	Notify       []string  `json:"notify,omitempty"`
	At           time.Time `json:"at"`
}

type FeedbackApplied struct {
	DocumentID    string    `json:"documentId"`
	VersionNumber int       `json:"versionNumber"`
	FeedbackIDs   []string  `json:"feedbackIds"`
	ActingUserID  string    `json:"actingUserId"`
	At            time.Time `json:"at"`
}

// New encodes payload into an outbox row for aggregateID.
func New(topic, aggregateID string, payload any, at time.Time) (store.OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return store.OutboxEvent{}, fmt.Errorf("encode %s event: %w", topic, err)
	}
	return store.OutboxEvent{
		ID:          util.NewID("evt"),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     raw,
		CreatedAt:   at,
	}, nil
}

// DecodeStageChange reads the payload of a workflow.* event.
func DecodeStageChange(event store.OutboxEvent) (StageChange, error) {
	var change StageChange
	if err := json.Unmarshal(event.Payload, &change); err != nil {
		return StageChange{}, fmt.Errorf("decode %s event %s: %w", event.Topic, event.ID, err)
	}
	return change, nil
}
