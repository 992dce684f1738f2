package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const feedbackColumns = `id, document_id, version_number, loc_page, loc_paragraph, loc_line, span_start, span_end,
	original_text, suggested_text, status, conflicts_with, author_id, created_at, resolved_at`

func (s *SQLStore) CreateFeedback(ctx context.Context, item FeedbackItem) error {
	conflicts, err := marshalJSON(nonNilStrings(item.ConflictsWith))
	if err != nil {
		return fmt.Errorf("encode conflicts: %w", err)
	}
	_, err = s.exec(ctx, s.db, `
		INSERT INTO feedback_items (`+feedbackColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.DocumentID, item.VersionNumber, item.Location.Page, item.Location.Paragraph, item.Location.Line,
		item.Start, item.End, item.OriginalText, item.SuggestedText, string(item.Status), conflicts, item.AuthorID,
		formatTime(item.CreatedAt), nullableTime(item.ResolvedAt))
	if err != nil {
		return classify(fmt.Errorf("insert feedback: %w", err))
	}
	return nil
}

func (s *SQLStore) GetFeedback(ctx context.Context, documentID, feedbackID string) (FeedbackItem, error) {
	return scanFeedback(s.queryRow(ctx, s.db, `
		SELECT `+feedbackColumns+`
		FROM feedback_items
		WHERE document_id = ? AND id = ?
	`, documentID, feedbackID))
}

// ListFeedback returns the document's items, optionally filtered by status.
func (s *SQLStore) ListFeedback(ctx context.Context, documentID string, status FeedbackStatus) ([]FeedbackItem, error) {
	query := `SELECT ` + feedbackColumns + ` FROM feedback_items WHERE document_id = ?`
	args := []any{documentID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY loc_page, loc_paragraph, loc_line, span_start, id`

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("list feedback: %w", err))
	}
	defer rows.Close()

	items := make([]FeedbackItem, 0)
	for rows.Next() {
		item, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate feedback: %w", err))
	}
	return items, nil
}

// RejectFeedback moves a pending item to REJECTED. Items that already left
// PENDING are immutable and yield ErrConflict.
func (s *SQLStore) RejectFeedback(ctx context.Context, documentID, feedbackID string, at time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `
			UPDATE feedback_items SET status = ?, resolved_at = ?
			WHERE document_id = ? AND id = ? AND status = ?
		`, string(FeedbackRejected), formatTime(at), documentID, feedbackID, string(FeedbackPending))
		if err != nil {
			return fmt.Errorf("reject feedback: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
		var count int
		if err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM feedback_items WHERE document_id = ? AND id = ?`, documentID, feedbackID).Scan(&count); err != nil {
			return fmt.Errorf("check feedback: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConflict
	})
}

// CommitFeedbackMerge writes a merge result atomically. The document's latest
// version must still be ExpectedVersion and every applied item must still be
// PENDING, otherwise nothing is written and ErrConflict is returned.
func (s *SQLStore) CommitFeedbackMerge(ctx context.Context, merge FeedbackMerge) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(time.Now())
		if merge.Version != nil {
			res, err := s.exec(ctx, tx, `
				UPDATE documents SET latest_version = ?, updated_at = ?
				WHERE id = ? AND latest_version = ?
			`, merge.Version.VersionNumber, now, merge.DocumentID, merge.ExpectedVersion)
			if err != nil {
				return fmt.Errorf("bump latest version: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrConflict
			}
			if err := s.insertVersion(ctx, tx, *merge.Version); err != nil {
				return err
			}
		}

		for _, id := range merge.AppliedIDs {
			res, err := s.exec(ctx, tx, `
				UPDATE feedback_items SET status = ?, resolved_at = ?, conflicts_with = ?
				WHERE document_id = ? AND id = ? AND status = ?
			`, string(FeedbackApplied), now, "[]", merge.DocumentID, id, string(FeedbackPending))
			if err != nil {
				return fmt.Errorf("mark feedback applied: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrConflict
			}
		}

		ids := make([]string, 0, len(merge.Conflicts))
		for id := range merge.Conflicts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			encoded, err := marshalJSON(nonNilStrings(merge.Conflicts[id]))
			if err != nil {
				return fmt.Errorf("encode conflicts: %w", err)
			}
			if _, err := s.exec(ctx, tx, `
				UPDATE feedback_items SET conflicts_with = ?
				WHERE document_id = ? AND id = ? AND status = ?
			`, encoded, merge.DocumentID, id, string(FeedbackPending)); err != nil {
				return fmt.Errorf("record conflicts: %w", err)
			}
		}
		return s.insertEvents(ctx, tx, merge.Events)
	})
}

func scanFeedback(row rowScanner) (FeedbackItem, error) {
	var (
		item              FeedbackItem
		status, conflicts string
		created           string
		resolved          sql.NullString
	)
	err := row.Scan(&item.ID, &item.DocumentID, &item.VersionNumber, &item.Location.Page, &item.Location.Paragraph, &item.Location.Line,
		&item.Start, &item.End, &item.OriginalText, &item.SuggestedText, &status, &conflicts, &item.AuthorID, &created, &resolved)
	if err != nil {
		return FeedbackItem{}, classify(err)
	}
	item.Status = FeedbackStatus(status)
	item.CreatedAt = parseTime(created)
	item.ResolvedAt = parseNullableTime(resolved)
	if err := json.Unmarshal([]byte(conflicts), &item.ConflictsWith); err != nil {
		return FeedbackItem{}, fmt.Errorf("decode conflicts: %w", err)
	}
	if len(item.ConflictsWith) == 0 {
		item.ConflictsWith = nil
	}
	return item, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
