package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

// Store persists users, roles, assignments, temporary grants, approval
// requests, MFA challenges and the audit trail. It is backed by SQLite by
// default and by PostgreSQL when configured.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore creates a SQLite-backed store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "opstower.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, driver: "sqlite"}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Open connects to the database described by cfg and runs migrations.
func Open(cfg DatabaseConfig) (*Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return NewStore(cfg.DataDir)
	case "postgres", "pgx":
		if cfg.DSN == "" {
			return nil, errors.New("postgres driver requires a dsn")
		}
		db, err := sqlx.Connect("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		s := &Store{db: db, driver: "pgx"}
		if err := s.migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewStoreFromDB wraps an open connection without running migrations. The
// driver name selects the bind variable style.
func NewStoreFromDB(db *sql.DB, driverName string) *Store {
	return &Store{db: sqlx.NewDb(db, driverName), driver: driverName}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string { return s.driver }

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func regionsOrEmpty(r model.RegionSet) model.RegionSet {
	if r == nil {
		return model.RegionSet{}
	}
	return r
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// userRow is the flat users table row. Regions are stored as a JSON array
// and the PII tier by name.
type userRow struct {
	ID             string    `db:"id"`
	Email          string    `db:"email"`
	Name           string    `db:"name"`
	Status         string    `db:"status"`
	AllowedRegions string    `db:"allowed_regions"`
	PIIScope       string    `db:"pii_scope"`
	MFAEnabled     bool      `db:"mfa_enabled"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func userRowFromModel(u *model.User) (userRow, error) {
	regions, err := encodeJSON(regionsOrEmpty(u.AllowedRegions))
	if err != nil {
		return userRow{}, fmt.Errorf("marshal regions: %w", err)
	}
	return userRow{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		Status:         string(u.Status),
		AllowedRegions: regions,
		PIIScope:       u.PIIScope.String(),
		MFAEnabled:     u.MFAEnabled,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}, nil
}

func (r userRow) toModel() (model.User, error) {
	u := model.User{
		ID:         r.ID,
		Email:      r.Email,
		Name:       r.Name,
		Status:     model.UserStatus(r.Status),
		MFAEnabled: r.MFAEnabled,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if err := decodeJSON(r.AllowedRegions, &u.AllowedRegions); err != nil {
		return model.User{}, fmt.Errorf("unmarshal regions for user %s: %w", r.ID, err)
	}
	tier, err := model.ParsePIITier(r.PIIScope)
	if err != nil {
		return model.User{}, fmt.Errorf("user %s: %w", r.ID, err)
	}
	u.PIIScope = tier
	return u, nil
}

// CreateUser inserts a user. An empty ID is replaced with a generated one;
// CreatedAt and UpdatedAt are populated. Assignments and grants on u are
// ignored.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = model.UserActive
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	row, err := userRowFromModel(u)
	if err != nil {
		return err
	}

	const q = `INSERT INTO users
		(id, email, name, status, allowed_regions, pii_scope, mfa_enabled, created_at, updated_at)
		VALUES
		(:id, :email, :name, :status, :allowed_regions, :pii_scope, :mfa_enabled, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user %s: %w", u.ID, ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns a user together with all role assignments and temporary
// grants, active or not. Effectiveness is for the caller to decide.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT * FROM users WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u, err := row.toModel()
	if err != nil {
		return nil, err
	}

	if u.Assignments, err = s.ListAssignments(ctx, id); err != nil {
		return nil, err
	}
	if u.Grants, err = s.ListGrants(ctx, id); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every user without assignments or grants.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM users ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]model.User, 0, len(rows))
	for _, r := range rows {
		u, err := r.toModel()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// UpdateUser writes the mutable user fields. UpdatedAt is refreshed.
func (s *Store) UpdateUser(ctx context.Context, u *model.User) error {
	u.UpdatedAt = time.Now().UTC()
	row, err := userRowFromModel(u)
	if err != nil {
		return err
	}

	const q = `UPDATE users SET
		email = :email, name = :name, status = :status, allowed_regions = :allowed_regions,
		pii_scope = :pii_scope, mfa_enabled = :mfa_enabled, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserStatus activates or deactivates a user. Users are never deleted.
func (s *Store) SetUserStatus(ctx context.Context, id string, status model.UserStatus) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE users SET status = ?, updated_at = ? WHERE id = ?"),
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set user status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user status rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------------

type roleRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Description  string    `db:"description"`
	Level        int       `db:"level"`
	Permissions  string    `db:"permissions"`
	InheritsFrom string    `db:"inherits_from"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func roleRowFromModel(r *model.Role) (roleRow, error) {
	perms := r.Permissions
	if perms == nil {
		perms = []model.Permission{}
	}
	permsJSON, err := encodeJSON(perms)
	if err != nil {
		return roleRow{}, fmt.Errorf("marshal permissions: %w", err)
	}
	parents := r.InheritsFrom
	if parents == nil {
		parents = []string{}
	}
	parentsJSON, err := encodeJSON(parents)
	if err != nil {
		return roleRow{}, fmt.Errorf("marshal inherits_from: %w", err)
	}
	return roleRow{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Level:        r.Level,
		Permissions:  permsJSON,
		InheritsFrom: parentsJSON,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

func (r roleRow) toModel() (model.Role, error) {
	role := model.Role{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Level:       r.Level,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := decodeJSON(r.Permissions, &role.Permissions); err != nil {
		return model.Role{}, fmt.Errorf("unmarshal permissions for role %s: %w", r.ID, err)
	}
	if err := decodeJSON(r.InheritsFrom, &role.InheritsFrom); err != nil {
		return model.Role{}, fmt.Errorf("unmarshal inherits_from for role %s: %w", r.ID, err)
	}
	return role, nil
}

// SaveRole inserts a role or replaces an existing role with the same ID.
// Permissions are validated against the catalog before anything is written.
func (s *Store) SaveRole(ctx context.Context, role *model.Role) error {
	if role.ID == "" {
		return errors.New("save role: id is required")
	}
	for _, p := range role.Permissions {
		if !p.Valid() {
			return fmt.Errorf("save role %s: unknown permission %q", role.ID, p)
		}
	}
	now := time.Now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now

	row, err := roleRowFromModel(role)
	if err != nil {
		return err
	}

	const q = `INSERT INTO roles
		(id, name, description, level, permissions, inherits_from, created_at, updated_at)
		VALUES
		(:id, :name, :description, :level, :permissions, :inherits_from, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
		name = excluded.name, description = excluded.description, level = excluded.level,
		permissions = excluded.permissions, inherits_from = excluded.inherits_from,
		updated_at = excluded.updated_at`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("save role: %w", err)
	}
	return nil
}

// GetRole returns a role by ID.
func (s *Store) GetRole(ctx context.Context, id string) (*model.Role, error) {
	var row roleRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT * FROM roles WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get role: %w", err)
	}
	role, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// ListRoles returns every role ordered by ID.
func (s *Store) ListRoles(ctx context.Context) ([]model.Role, error) {
	var rows []roleRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM roles ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	roles := make([]model.Role, 0, len(rows))
	for _, r := range rows {
		role, err := r.toModel()
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// RolesRevision fingerprints the roles table by row count and latest
// update. It changes whenever a role is saved.
func (s *Store) RolesRevision(ctx context.Context) (string, error) {
	var rev struct {
		Count  int    `db:"n"`
		Latest string `db:"latest"`
	}
	const q = `SELECT COUNT(*) AS n, COALESCE(CAST(MAX(updated_at) AS TEXT), '') AS latest FROM roles`
	if err := s.db.GetContext(ctx, &rev, q); err != nil {
		return "", fmt.Errorf("roles revision: %w", err)
	}
	return fmt.Sprintf("%d@%s", rev.Count, rev.Latest), nil
}

// ---------------------------------------------------------------------------
// Role assignments
// ---------------------------------------------------------------------------

type assignmentRow struct {
	ID             string       `db:"id"`
	UserID         string       `db:"user_id"`
	RoleID         string       `db:"role_id"`
	AllowedRegions string       `db:"allowed_regions"`
	ValidFrom      time.Time    `db:"valid_from"`
	ValidUntil     sql.NullTime `db:"valid_until"`
	IsActive       bool         `db:"is_active"`
	CreatedAt      time.Time    `db:"created_at"`
}

func (r assignmentRow) toModel() (model.RoleAssignment, error) {
	a := model.RoleAssignment{
		ID:         r.ID,
		UserID:     r.UserID,
		RoleID:     r.RoleID,
		ValidFrom:  r.ValidFrom,
		ValidUntil: timePtr(r.ValidUntil),
		IsActive:   r.IsActive,
		CreatedAt:  r.CreatedAt,
	}
	if err := decodeJSON(r.AllowedRegions, &a.AllowedRegions); err != nil {
		return model.RoleAssignment{}, fmt.Errorf("unmarshal regions for assignment %s: %w", r.ID, err)
	}
	return a, nil
}

// CreateAssignment binds a user to a role. An empty ID is generated and a
// zero ValidFrom defaults to now.
func (s *Store) CreateAssignment(ctx context.Context, a *model.RoleAssignment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if a.ValidFrom.IsZero() {
		a.ValidFrom = now
	}
	a.CreatedAt = now

	regions, err := encodeJSON(regionsOrEmpty(a.AllowedRegions))
	if err != nil {
		return fmt.Errorf("marshal regions: %w", err)
	}
	row := assignmentRow{
		ID:             a.ID,
		UserID:         a.UserID,
		RoleID:         a.RoleID,
		AllowedRegions: regions,
		ValidFrom:      a.ValidFrom.UTC(),
		ValidUntil:     nullTime(a.ValidUntil),
		IsActive:       a.IsActive,
		CreatedAt:      a.CreatedAt,
	}

	const q = `INSERT INTO role_assignments
		(id, user_id, role_id, allowed_regions, valid_from, valid_until, is_active, created_at)
		VALUES
		(:id, :user_id, :role_id, :allowed_regions, :valid_from, :valid_until, :is_active, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

// ListAssignments returns every assignment of a user, oldest first.
func (s *Store) ListAssignments(ctx context.Context, userID string) ([]model.RoleAssignment, error) {
	var rows []assignmentRow
	if err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind("SELECT * FROM role_assignments WHERE user_id = ? ORDER BY created_at, id"), userID); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	out := make([]model.RoleAssignment, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// DeactivateAssignment clears is_active on an assignment.
func (s *Store) DeactivateAssignment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE role_assignments SET is_active = ? WHERE id = ?"), false, id)
	if err != nil {
		return fmt.Errorf("deactivate assignment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate assignment rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
