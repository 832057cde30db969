package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/audit"
)

// RecordAudit appends one entry to the audit log.
func (s *Store) RecordAudit(ctx context.Context, e audit.Entry) error {
	e.Timestamp = e.Timestamp.UTC()
	const q = `INSERT INTO audit_log (id, kind, user_id, action, severity, payload, created_at)
		VALUES (:id, :kind, :user_id, :action, :severity, :payload, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, e); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AuditQuery filters ListAudit. Zero fields match everything.
type AuditQuery struct {
	UserID string
	Kind   string
	Limit  int
}

// ListAudit returns audit entries newest first.
func (s *Store) ListAudit(ctx context.Context, q AuditQuery) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, q.Kind)
	}
	query := "SELECT id, kind, user_id, action, severity, payload, created_at FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	var entries []audit.Entry
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}
