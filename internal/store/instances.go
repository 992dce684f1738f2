package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CreateInstance fails with ErrConflict when the document already has one.
func (s *SQLStore) CreateInstance(ctx context.Context, inst WorkflowInstance, events []OutboxEvent) error {
	approvals, err := marshalJSON(nonNilApprovals(inst.Approvals))
	if err != nil {
		return fmt.Errorf("encode approvals: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM workflow_instances WHERE document_id = ?`, inst.DocumentID).Scan(&count); err != nil {
			return fmt.Errorf("check instance: %w", err)
		}
		if count > 0 {
			return ErrConflict
		}
		if _, err := s.exec(ctx, tx, `
			INSERT INTO workflow_instances (id, document_id, template_id, current_stage_id, status, version, approvals, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, inst.ID, inst.DocumentID, inst.TemplateID, inst.CurrentStageID, string(inst.Status), inst.Version, approvals, formatTime(inst.CreatedAt), formatTime(inst.UpdatedAt)); err != nil {
			return fmt.Errorf("insert instance: %w", err)
		}
		if err := s.insertHistory(ctx, tx, inst.ID, inst.History); err != nil {
			return err
		}
		return s.insertEvents(ctx, tx, events)
	})
}

func (s *SQLStore) GetInstance(ctx context.Context, instanceID string) (WorkflowInstance, error) {
	return s.loadInstance(ctx, `WHERE id = ?`, instanceID)
}

func (s *SQLStore) GetInstanceByDocument(ctx context.Context, documentID string) (WorkflowInstance, error) {
	return s.loadInstance(ctx, `WHERE document_id = ?`, documentID)
}

func (s *SQLStore) loadInstance(ctx context.Context, where string, arg string) (WorkflowInstance, error) {
	var (
		inst                            WorkflowInstance
		status, approvals, created, upd string
	)
	err := s.queryRow(ctx, s.db, `
		SELECT id, document_id, template_id, current_stage_id, status, version, approvals, created_at, updated_at
		FROM workflow_instances `+where, arg).
		Scan(&inst.ID, &inst.DocumentID, &inst.TemplateID, &inst.CurrentStageID, &status, &inst.Version, &approvals, &created, &upd)
	if err != nil {
		return WorkflowInstance{}, classify(err)
	}
	inst.Status = InstanceStatus(status)
	inst.CreatedAt = parseTime(created)
	inst.UpdatedAt = parseTime(upd)
	if err := json.Unmarshal([]byte(approvals), &inst.Approvals); err != nil {
		return WorkflowInstance{}, fmt.Errorf("decode approvals: %w", err)
	}

	history, err := s.listHistory(ctx, inst.ID)
	if err != nil {
		return WorkflowInstance{}, err
	}
	inst.History = history
	return inst, nil
}

// UpdateInstance writes the new instance state only if the stored version
// still equals ExpectedVersion. A lost race returns ErrConflict and nothing
// is written.
func (s *SQLStore) UpdateInstance(ctx context.Context, update InstanceUpdate) error {
	inst := update.Instance
	approvals, err := marshalJSON(nonNilApprovals(inst.Approvals))
	if err != nil {
		return fmt.Errorf("encode approvals: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `
			UPDATE workflow_instances
			SET current_stage_id = ?, status = ?, approvals = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`, inst.CurrentStageID, string(inst.Status), approvals, formatTime(inst.UpdatedAt), inst.ID, update.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("update instance: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update instance rows: %w", err)
		}
		if affected == 0 {
			var count int
			if err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM workflow_instances WHERE id = ?`, inst.ID).Scan(&count); err != nil {
				return fmt.Errorf("check instance: %w", err)
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrConflict
		}
		if err := s.insertHistory(ctx, tx, inst.ID, update.Appended); err != nil {
			return err
		}
		return s.insertEvents(ctx, tx, update.Events)
	})
}

func (s *SQLStore) insertHistory(ctx context.Context, tx *sql.Tx, instanceID string, entries []HistoryEntry) error {
	for _, entry := range entries {
		var payload any
		if len(entry.Payload) > 0 {
			encoded, err := marshalJSON(entry.Payload)
			if err != nil {
				return fmt.Errorf("encode payload: %w", err)
			}
			payload = encoded
		}
		if _, err := s.exec(ctx, tx, `
			INSERT INTO workflow_history (instance_id, seq, stage_id, stage_name, to_stage_id, acting_user_id, acting_role, action, outcome, comments, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, instanceID, entry.Seq, entry.StageID, entry.StageName, entry.ToStageID, entry.ActingUserID, entry.ActingRole, entry.Action, entry.Outcome, entry.Comments, payload, formatTime(entry.Timestamp)); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) listHistory(ctx context.Context, instanceID string) ([]HistoryEntry, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT seq, stage_id, stage_name, to_stage_id, acting_user_id, acting_role, action, outcome, comments, payload, created_at
		FROM workflow_history
		WHERE instance_id = ?
		ORDER BY seq
	`, instanceID)
	if err != nil {
		return nil, classify(fmt.Errorf("list history: %w", err))
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var (
			entry             HistoryEntry
			comments, payload sql.NullString
			when              string
		)
		if err := rows.Scan(&entry.Seq, &entry.StageID, &entry.StageName, &entry.ToStageID, &entry.ActingUserID, &entry.ActingRole, &entry.Action, &entry.Outcome, &comments, &payload, &when); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entry.Comments = comments.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("decode history payload: %w", err)
			}
		}
		entry.Timestamp = parseTime(when)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate history: %w", err))
	}
	return entries, nil
}

func nonNilApprovals(approvals []Approval) []Approval {
	if approvals == nil {
		return []Approval{}
	}
	return approvals
}
