package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

// grantRow maps to access_grants. An empty pii_scope_override means the
// grant does not touch PII visibility.
type grantRow struct {
	ID                 string       `db:"id"`
	UserID             string       `db:"user_id"`
	GrantedPermissions string       `db:"granted_permissions"`
	GrantedRegions     string       `db:"granted_regions"`
	PIIScopeOverride   string       `db:"pii_scope_override"`
	ExpiresAt          time.Time    `db:"expires_at"`
	IsActive           bool         `db:"is_active"`
	EscalationType     string       `db:"escalation_type"`
	CaseID             string       `db:"case_id"`
	RequestedBy        string       `db:"requested_by"`
	ApprovedBy         string       `db:"approved_by"`
	ApprovalID         string       `db:"approval_id"`
	Reason             string       `db:"reason"`
	CreatedAt          time.Time    `db:"created_at"`
	RevokedAt          sql.NullTime `db:"revoked_at"`
	RevokedBy          string       `db:"revoked_by"`
}

func grantRowFromModel(g *model.TemporaryAccessGrant) (grantRow, error) {
	perms := g.GrantedPermissions
	if perms == nil {
		perms = []model.Permission{}
	}
	permsJSON, err := encodeJSON(perms)
	if err != nil {
		return grantRow{}, fmt.Errorf("marshal permissions: %w", err)
	}
	regionsJSON, err := encodeJSON(regionsOrEmpty(g.GrantedRegions))
	if err != nil {
		return grantRow{}, fmt.Errorf("marshal regions: %w", err)
	}
	approvers := g.ApprovedBy
	if approvers == nil {
		approvers = []string{}
	}
	approversJSON, err := encodeJSON(approvers)
	if err != nil {
		return grantRow{}, fmt.Errorf("marshal approvers: %w", err)
	}
	var override string
	if g.PIIScopeOverride != nil {
		override = g.PIIScopeOverride.String()
	}
	return grantRow{
		ID:                 g.ID,
		UserID:             g.UserID,
		GrantedPermissions: permsJSON,
		GrantedRegions:     regionsJSON,
		PIIScopeOverride:   override,
		ExpiresAt:          g.ExpiresAt.UTC(),
		IsActive:           g.IsActive,
		EscalationType:     string(g.EscalationType),
		CaseID:             g.CaseID,
		RequestedBy:        g.RequestedBy,
		ApprovedBy:         approversJSON,
		ApprovalID:         g.ApprovalID,
		Reason:             g.Reason,
		CreatedAt:          g.CreatedAt,
		RevokedAt:          nullTime(g.RevokedAt),
		RevokedBy:          g.RevokedBy,
	}, nil
}

func (r grantRow) toModel() (model.TemporaryAccessGrant, error) {
	g := model.TemporaryAccessGrant{
		ID:             r.ID,
		UserID:         r.UserID,
		ExpiresAt:      r.ExpiresAt,
		IsActive:       r.IsActive,
		EscalationType: model.EscalationType(r.EscalationType),
		CaseID:         r.CaseID,
		RequestedBy:    r.RequestedBy,
		ApprovalID:     r.ApprovalID,
		Reason:         r.Reason,
		CreatedAt:      r.CreatedAt,
		RevokedAt:      timePtr(r.RevokedAt),
		RevokedBy:      r.RevokedBy,
	}
	if err := decodeJSON(r.GrantedPermissions, &g.GrantedPermissions); err != nil {
		return model.TemporaryAccessGrant{}, fmt.Errorf("unmarshal permissions for grant %s: %w", r.ID, err)
	}
	if err := decodeJSON(r.GrantedRegions, &g.GrantedRegions); err != nil {
		return model.TemporaryAccessGrant{}, fmt.Errorf("unmarshal regions for grant %s: %w", r.ID, err)
	}
	if err := decodeJSON(r.ApprovedBy, &g.ApprovedBy); err != nil {
		return model.TemporaryAccessGrant{}, fmt.Errorf("unmarshal approvers for grant %s: %w", r.ID, err)
	}
	if r.PIIScopeOverride != "" {
		tier, err := model.ParsePIITier(r.PIIScopeOverride)
		if err != nil {
			return model.TemporaryAccessGrant{}, fmt.Errorf("grant %s: %w", r.ID, err)
		}
		g.PIIScopeOverride = &tier
	}
	return g, nil
}

// CreateGrant inserts a temporary access grant. An empty ID is generated
// and CreatedAt is populated.
func (s *Store) CreateGrant(ctx context.Context, g *model.TemporaryAccessGrant) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.CreatedAt = time.Now().UTC()

	row, err := grantRowFromModel(g)
	if err != nil {
		return err
	}

	const q = `INSERT INTO access_grants
		(id, user_id, granted_permissions, granted_regions, pii_scope_override, expires_at, is_active,
		 escalation_type, case_id, requested_by, approved_by, approval_id, reason, created_at,
		 revoked_at, revoked_by)
		VALUES
		(:id, :user_id, :granted_permissions, :granted_regions, :pii_scope_override, :expires_at, :is_active,
		 :escalation_type, :case_id, :requested_by, :approved_by, :approval_id, :reason, :created_at,
		 :revoked_at, :revoked_by)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

// GetGrant returns a grant by ID.
func (s *Store) GetGrant(ctx context.Context, id string) (*model.TemporaryAccessGrant, error) {
	var row grantRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT * FROM access_grants WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get grant: %w", err)
	}
	g, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGrants returns every grant issued to a user, newest first. Expired
// and revoked grants are included.
func (s *Store) ListGrants(ctx context.Context, userID string) ([]model.TemporaryAccessGrant, error) {
	var rows []grantRow
	if err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind("SELECT * FROM access_grants WHERE user_id = ? ORDER BY created_at DESC, id"), userID); err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	out := make([]model.TemporaryAccessGrant, 0, len(rows))
	for _, r := range rows {
		g, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// RevokeGrant clears is_active on a grant that is still active. It returns
// ErrNotFound when no active grant with that ID exists.
func (s *Store) RevokeGrant(ctx context.Context, id, by string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE access_grants SET is_active = ?, revoked_at = ?, revoked_by = ? WHERE id = ? AND is_active = ?"),
		false, at.UTC(), by, id, true)
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke grant rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
