package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/config"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/scope"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/workflow"
)

// Scope summarizes what a user can currently reach.
type Scope struct {
	UserID      string             `json:"user_id"`
	Regions     model.RegionSet    `json:"regions"`
	PIIScope    model.PIITier      `json:"pii_scope"`
	Permissions []model.Permission `json:"permissions"`
	RoleID      string             `json:"role_id,omitempty"`
	Level       int                `json:"level"`
}

func (e *Engine) user(ctx context.Context, id string) (*model.User, error) {
	u, err := e.dir.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, id)
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// EffectiveRegions returns the regions userID can reach now, emergency
// grants included.
func (e *Engine) EffectiveRegions(ctx context.Context, userID string) (model.RegionSet, error) {
	u, err := e.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return scope.EffectiveRegions(u, e.now()), nil
}

// EffectivePIIScope returns userID's PII tier before any step-up cap.
func (e *Engine) EffectivePIIScope(ctx context.Context, userID string) (model.PIITier, error) {
	u, err := e.user(ctx, userID)
	if err != nil {
		return model.PIINone, err
	}
	return scope.EffectivePIIScope(u, e.now()), nil
}

// EffectiveScope returns regions, PII tier, permissions and the highest
// role level of userID in one lookup.
func (e *Engine) EffectiveScope(ctx context.Context, userID string) (Scope, error) {
	u, err := e.user(ctx, userID)
	if err != nil {
		return Scope{}, err
	}
	r, err := e.resolver(ctx)
	if err != nil {
		return Scope{}, err
	}
	now := e.now()
	perms := r.ResolvePermissions(u, now)
	perms.Merge(scope.GrantedPermissions(u, now))
	level, roleID := r.MaxLevel(u, now)
	return Scope{
		UserID:      u.ID,
		Regions:     scope.EffectiveRegions(u, now),
		PIIScope:    scope.EffectivePIIScope(u, now),
		Permissions: perms.Sorted(),
		RoleID:      roleID,
		Level:       level,
	}, nil
}

// Approver resolves userID into the principal the workflow manager checks
// eligibility against. Only role permissions count; temporary grants never
// make someone an approver. Inactive users are rejected.
func (e *Engine) Approver(ctx context.Context, userID string, mfaVerified bool) (workflow.Approver, error) {
	u, err := e.user(ctx, userID)
	if err != nil {
		return workflow.Approver{}, err
	}
	if !u.IsActive() {
		return workflow.Approver{}, fmt.Errorf("%w: %s is inactive", workflow.ErrIneligibleApprover, userID)
	}
	r, err := e.resolver(ctx)
	if err != nil {
		return workflow.Approver{}, err
	}
	now := e.now()
	level, roleID := r.MaxLevel(u, now)
	return workflow.Approver{
		UserID:      u.ID,
		RoleID:      roleID,
		Level:       level,
		Permissions: r.ResolvePermissions(u, now),
		MFAVerified: mfaVerified,
	}, nil
}
