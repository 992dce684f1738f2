package store

import (
	"encoding/json"
	"time"
)

type InstanceStatus string

const (
	StatusActive    InstanceStatus = "ACTIVE"
	StatusCompleted InstanceStatus = "COMPLETED"
	StatusCancelled InstanceStatus = "CANCELLED"
)

type FeedbackStatus string

const (
	FeedbackPending  FeedbackStatus = "PENDING"
	FeedbackApplied  FeedbackStatus = "APPLIED"
	FeedbackRejected FeedbackStatus = "REJECTED"
)

const (
	OutcomeAdvanced         = "ADVANCED"
	OutcomeCompleted        = "COMPLETED"
	OutcomeMovedBackward    = "MOVED_BACKWARD"
	OutcomeApprovalRecorded = "APPROVAL_RECORDED"
	OutcomeCancelled        = "CANCELLED"
)

type Document struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	OrganizationID string    `json:"organizationId,omitempty"`
	CreatedBy      string    `json:"createdBy"`
	LatestVersion  int       `json:"latestVersion"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// WorkflowInstance keeps the persisted field names instanceId, templateId,
// currentStageId, status and history.
type WorkflowInstance struct {
	ID             string         `json:"instanceId"`
	DocumentID     string         `json:"documentId"`
	TemplateID     string         `json:"templateId"`
	CurrentStageID string         `json:"currentStageId"`
	Status         InstanceStatus `json:"status"`
	Version        int            `json:"version"`
	Approvals      []Approval     `json:"approvals"`
	History        []HistoryEntry `json:"history"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Approval fills one required-role slot of a parallel stage.
type Approval struct {
	StageID string    `json:"stageId"`
	Role    string    `json:"role"`
	UserID  string    `json:"userId"`
	At      time.Time `json:"at"`
}

type HistoryEntry struct {
	Seq          int            `json:"seq"`
	StageID      string         `json:"stageId"`
	StageName    string         `json:"stageName"`
	ToStageID    string         `json:"toStageId,omitempty"`
	ActingUserID string         `json:"actingUserId"`
	ActingRole   string         `json:"actingRole"`
	Action       string         `json:"action"`
	Outcome      string         `json:"outcome"`
	Timestamp    time.Time      `json:"timestamp"`
	Comments     string         `json:"comments,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

type Location struct {
	Page      int `json:"page"`
	Paragraph int `json:"paragraph"`
	Line      int `json:"line"`
}

type FeedbackItem struct {
	ID            string         `json:"id"`
	DocumentID    string         `json:"documentId"`
	VersionNumber int            `json:"versionNumber"`
	Location      Location       `json:"location"`
	Start         int            `json:"start"`
	End           int            `json:"end"`
	OriginalText  string         `json:"originalText"`
	SuggestedText string         `json:"suggestedText"`
	Status        FeedbackStatus `json:"status"`
	ConflictsWith []string       `json:"conflictsWith,omitempty"`
	AuthorID      string         `json:"authorId"`
	CreatedAt     time.Time      `json:"createdAt"`
	ResolvedAt    *time.Time     `json:"resolvedAt,omitempty"`
}

// AppliedChange records one edit. Start and End are offsets in the previous
// version; AppliedStart is where the edit landed after earlier edits in the
// same merge shifted the text.
type AppliedChange struct {
	FeedbackIDs    []string `json:"feedbackIds"`
	Location       Location `json:"location"`
	Start          int      `json:"start"`
	End            int      `json:"end"`
	AppliedStart   int      `json:"appliedStart"`
	OriginalText   string   `json:"originalText"`
	NewText        string   `json:"newText"`
	CharacterDelta int      `json:"characterDelta"`
}

// PositionShift says text in [Start,End) of the previous version was
// replaced and everything from End on moved by Delta.
type PositionShift struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Delta int `json:"delta"`
}

type PositionMap struct {
	FromVersion int             `json:"fromVersion"`
	Shifts      []PositionShift `json:"shifts"`
}

type DocumentVersion struct {
	DocumentID    string          `json:"documentId"`
	VersionNumber int             `json:"versionNumber"`
	Content       string          `json:"content"`
	Changes       []AppliedChange `json:"changes"`
	PositionMap   PositionMap     `json:"positionMap"`
	CreatedBy     string          `json:"createdBy"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type OutboxEvent struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	DeliveredAt *time.Time      `json:"deliveredAt,omitempty"`
}

// InstanceUpdate is one optimistic read-modify-write of a workflow instance.
type InstanceUpdate struct {
	Instance        WorkflowInstance
	ExpectedVersion int
	Appended        []HistoryEntry
	Events          []OutboxEvent
}

// FeedbackMerge is written atomically: the new version (if any), the status
// changes of the merged items and the recorded conflicts.
type FeedbackMerge struct {
	DocumentID      string
	ExpectedVersion int
	Version         *DocumentVersion
	AppliedIDs      []string
	Conflicts       map[string][]string
	Events          []OutboxEvent
}

type SearchHit struct {
	DocumentID    string `json:"documentId"`
	Title         string `json:"title"`
	VersionNumber int    `json:"versionNumber"`
	Snippet       string `json:"snippet"`
}
