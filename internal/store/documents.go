package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CreateDocument inserts the document together with its first version.
func (s *SQLStore) CreateDocument(ctx context.Context, doc Document, first DocumentVersion) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `
			INSERT INTO documents (id, title, organization_id, created_by, latest_version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, doc.ID, doc.Title, doc.OrganizationID, doc.CreatedBy, first.VersionNumber, formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt)); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		return s.insertVersion(ctx, tx, first)
	})
}

func (s *SQLStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var (
		doc                  Document
		createdAt, updatedAt string
	)
	err := s.queryRow(ctx, s.db, `
		SELECT id, title, organization_id, created_by, latest_version, created_at, updated_at
		FROM documents
		WHERE id = ?
	`, documentID).Scan(&doc.ID, &doc.Title, &doc.OrganizationID, &doc.CreatedBy, &doc.LatestVersion, &createdAt, &updatedAt)
	if err != nil {
		return Document{}, classify(err)
	}
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	return doc, nil
}

func (s *SQLStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, title, organization_id, created_by, latest_version, created_at, updated_at
		FROM documents
		ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, classify(fmt.Errorf("list documents: %w", err))
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var (
			doc                  Document
			createdAt, updatedAt string
		)
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.OrganizationID, &doc.CreatedBy, &doc.LatestVersion, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.CreatedAt = parseTime(createdAt)
		doc.UpdatedAt = parseTime(updatedAt)
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate documents: %w", err))
	}
	return items, nil
}

// DeleteDocument removes the document and everything it owns.
func (s *SQLStore) DeleteDocument(ctx context.Context, documentID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `
			DELETE FROM workflow_history
			WHERE instance_id IN (SELECT id FROM workflow_instances WHERE document_id = ?)
		`, documentID); err != nil {
			return fmt.Errorf("delete history: %w", err)
		}
		for _, stmt := range []string{
			`DELETE FROM workflow_instances WHERE document_id = ?`,
			`DELETE FROM feedback_items WHERE document_id = ?`,
			`DELETE FROM document_versions WHERE document_id = ?`,
		} {
			if _, err := s.exec(ctx, tx, stmt, documentID); err != nil {
				return fmt.Errorf("delete owned rows: %w", err)
			}
		}
		res, err := s.exec(ctx, tx, `DELETE FROM documents WHERE id = ?`, documentID)
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLStore) insertVersion(ctx context.Context, tx *sql.Tx, version DocumentVersion) error {
	changes, err := marshalJSON(nonNilChanges(version.Changes))
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	positionMap, err := marshalJSON(version.PositionMap)
	if err != nil {
		return fmt.Errorf("encode position map: %w", err)
	}
	if _, err := s.exec(ctx, tx, `
		INSERT INTO document_versions (document_id, version_number, content, changes, position_map, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, version.DocumentID, version.VersionNumber, version.Content, changes, positionMap, version.CreatedBy, formatTime(version.CreatedAt)); err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (s *SQLStore) LatestVersion(ctx context.Context, documentID string) (DocumentVersion, error) {
	return s.scanVersion(s.queryRow(ctx, s.db, `
		SELECT v.document_id, v.version_number, v.content, v.changes, v.position_map, v.created_by, v.created_at
		FROM document_versions v
		JOIN documents d ON d.id = v.document_id AND d.latest_version = v.version_number
		WHERE v.document_id = ?
	`, documentID))
}

func (s *SQLStore) GetVersion(ctx context.Context, documentID string, number int) (DocumentVersion, error) {
	return s.scanVersion(s.queryRow(ctx, s.db, `
		SELECT document_id, version_number, content, changes, position_map, created_by, created_at
		FROM document_versions
		WHERE document_id = ? AND version_number = ?
	`, documentID, number))
}

func (s *SQLStore) ListVersions(ctx context.Context, documentID string) ([]DocumentVersion, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT document_id, version_number, content, changes, position_map, created_by, created_at
		FROM document_versions
		WHERE document_id = ?
		ORDER BY version_number
	`, documentID)
	if err != nil {
		return nil, classify(fmt.Errorf("list versions: %w", err))
	}
	defer rows.Close()

	items := make([]DocumentVersion, 0)
	for rows.Next() {
		version, err := s.scanVersion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, version)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate versions: %w", err))
	}
	return items, nil
}

// VersionsSince returns versions with a number greater than after, in order.
func (s *SQLStore) VersionsSince(ctx context.Context, documentID string, after int) ([]DocumentVersion, error) {
	all, err := s.ListVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]DocumentVersion, 0, len(all))
	for _, version := range all {
		if version.VersionNumber > after {
			out = append(out, version)
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanVersion(row rowScanner) (DocumentVersion, error) {
	var (
		version                    DocumentVersion
		changes, positionMap, when string
	)
	if err := row.Scan(&version.DocumentID, &version.VersionNumber, &version.Content, &changes, &positionMap, &version.CreatedBy, &when); err != nil {
		return DocumentVersion{}, classify(err)
	}
	if err := json.Unmarshal([]byte(changes), &version.Changes); err != nil {
		return DocumentVersion{}, fmt.Errorf("decode changes: %w", err)
	}
	if err := json.Unmarshal([]byte(positionMap), &version.PositionMap); err != nil {
		return DocumentVersion{}, fmt.Errorf("decode position map: %w", err)
	}
	version.CreatedAt = parseTime(when)
	return version, nil
}

func nonNilChanges(changes []AppliedChange) []AppliedChange {
	if changes == nil {
		return []AppliedChange{}
	}
	return changes
}
