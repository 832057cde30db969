package config

import (
	"fmt"
	"strings"
)

// The schema sticks to types both SQLite and PostgreSQL accept so the same
// list runs against either backend. JSON-encoded columns are plain TEXT.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL DEFAULT 'active',
			allowed_regions TEXT NOT NULL DEFAULT '[]',
			pii_scope VARCHAR(16) NOT NULL DEFAULT 'none',
			mfa_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS roles (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			level INTEGER NOT NULL DEFAULT 0,
			permissions TEXT NOT NULL DEFAULT '[]',
			inherits_from TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS role_assignments (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL REFERENCES users(id),
			role_id VARCHAR(64) NOT NULL REFERENCES roles(id),
			allowed_regions TEXT NOT NULL DEFAULT '[]',
			valid_from TIMESTAMP NOT NULL,
			valid_until TIMESTAMP,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS access_grants (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL REFERENCES users(id),
			granted_permissions TEXT NOT NULL DEFAULT '[]',
			granted_regions TEXT NOT NULL DEFAULT '[]',
			pii_scope_override VARCHAR(16) NOT NULL DEFAULT '',
			expires_at TIMESTAMP NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			escalation_type VARCHAR(16) NOT NULL,
			case_id VARCHAR(128) NOT NULL DEFAULT '',
			requested_by VARCHAR(64) NOT NULL DEFAULT '',
			approved_by TEXT NOT NULL DEFAULT '[]',
			approval_id VARCHAR(64) NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			revoked_at TIMESTAMP,
			revoked_by VARCHAR(64) NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS approval_requests (
			id VARCHAR(64) PRIMARY KEY,
			action VARCHAR(64) NOT NULL,
			requester_id VARCHAR(64) NOT NULL,
			justification TEXT NOT NULL,
			requested_action TEXT NOT NULL DEFAULT '{}',
			requested_regions TEXT NOT NULL DEFAULT '[]',
			status VARCHAR(16) NOT NULL,
			approvals TEXT NOT NULL DEFAULT '[]',
			denied_by VARCHAR(64) NOT NULL DEFAULT '',
			deny_reason TEXT NOT NULL DEFAULT '',
			grant_id VARCHAR(64) NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS mfa_challenges (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			method VARCHAR(16) NOT NULL,
			action VARCHAR(64) NOT NULL,
			resource_id VARCHAR(128) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL,
			code_hash VARCHAR(128) NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			consumed_at TIMESTAMP,
			token_used_at TIMESTAMP
		)`,
		`ALTER TABLE mfa_challenges ADD COLUMN token_used_at TIMESTAMP`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			id VARCHAR(32) PRIMARY KEY,
			kind VARCHAR(16) NOT NULL,
			user_id VARCHAR(64) NOT NULL DEFAULT '',
			action VARCHAR(64) NOT NULL DEFAULT '',
			severity VARCHAR(16) NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key VARCHAR(128) PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_role_assignments_user ON role_assignments(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_access_grants_user ON access_grants(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_approval_requests_status ON approval_requests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_mfa_challenges_user ON mfa_challenges(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_user ON audit_log(user_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// ALTER TABLE ADD COLUMN fails if the column already exists;
			// treat that as a no-op so migrations stay idempotent.
			if strings.Contains(err.Error(), "duplicate column") || strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
