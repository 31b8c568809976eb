// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const approvalTable = "cascade_approvals"

const approvalColumns = "id, run_id, function_id, summary, payload_json, approvers_json, status, reason, output_json, created_at, updated_at, expires_at"

// SQLiteStore persists approvals in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a SQLite-backed approval store and ensures schema.
// The caller opens db, typically with the modernc.org/sqlite driver.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, fmt.Errorf("approval schema: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			function_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			payload_json BLOB,
			approvers_json BLOB,
			status TEXT NOT NULL,
			reason TEXT NOT NULL,
			output_json BLOB,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		);`, approvalTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_run ON %s(run_id);`, approvalTable, approvalTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status);`, approvalTable, approvalTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts an approval request.
func (s *SQLiteStore) Create(ctx context.Context, req Request) (*Request, error) {
	if err := prepare(&req, s.now()); err != nil {
		return nil, err
	}
	approvers, err := json.Marshal(req.Approvers)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", approvalTable, approvalColumns),
		req.ID, req.RunID, req.FunctionID, req.Summary, []byte(req.Payload), approvers,
		string(req.Status), req.Reason, []byte(req.Output),
		req.CreatedAt.UnixMilli(), req.UpdatedAt.UnixMilli(), unixMilli(req.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("insert approval: %w", err)
	}
	return s.Get(ctx, req.ID)
}

// Get returns an approval request by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", approvalColumns, approvalTable), id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("approval %q: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return req, nil
}

// List returns approvals matching the filter, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Request, error) {
	where := []string{"1=1"}
	args := make([]any, 0)
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.FunctionID != "" {
		where = append(where, "function_id = ?")
		args = append(args, filter.FunctionID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.ExpiringBefore.IsZero() {
		where = append(where, "expires_at > 0 AND expires_at <= ?")
		args = append(args, filter.ExpiringBefore.UnixMilli())
	}
	limit := ""
	if filter.Limit > 0 {
		limit = fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY updated_at DESC, id ASC%s",
		approvalColumns, approvalTable, strings.Join(where, " AND "), limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Decide records a decision on a pending request.
func (s *SQLiteStore) Decide(ctx context.Context, id string, decision Decision) (*Request, error) {
	if err := checkDecision(decision); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET status = ?, reason = ?, output_json = ?, updated_at = ? WHERE id = ? AND status = ?", approvalTable),
		string(decision.Status), decision.Reason, []byte(decision.Output), s.now().UnixMilli(), id, string(StatusPending))
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("approval %q is %s: %w", id, current.Status, ErrDecided)
	}
	return s.Get(ctx, id)
}

// ExpireApprovals expires pending requests whose deadline has passed.
func (s *SQLiteStore) ExpireApprovals(ctx context.Context) (int, error) {
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET status = ?, reason = ?, updated_at = ? WHERE status = ? AND expires_at > 0 AND expires_at <= ?", approvalTable),
		string(StatusExpired), "approval deadline passed", now, string(StatusPending), now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*Request, error) {
	var (
		req           Request
		status        string
		payload       []byte
		approversJSON []byte
		output        []byte
		createdAtMs   int64
		updatedAtMs   int64
		expiresAtMs   int64
	)
	if err := row.Scan(&req.ID, &req.RunID, &req.FunctionID, &req.Summary, &payload, &approversJSON,
		&status, &req.Reason, &output, &createdAtMs, &updatedAtMs, &expiresAtMs); err != nil {
		return nil, err
	}
	req.Status = Status(status)
	req.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	req.UpdatedAt = time.UnixMilli(updatedAtMs).UTC()
	if expiresAtMs > 0 {
		req.ExpiresAt = time.UnixMilli(expiresAtMs).UTC()
	}
	if len(payload) > 0 {
		req.Payload = json.RawMessage(payload)
	}
	if len(output) > 0 {
		req.Output = json.RawMessage(output)
	}
	if len(approversJSON) > 0 {
		if err := json.Unmarshal(approversJSON, &req.Approvers); err != nil {
			return nil, fmt.Errorf("decode approvers: %w", err)
		}
	}
	return &req, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
