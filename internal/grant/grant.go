// Package grant issues, lists and revokes time-boxed access grants.
//
// A grant is never swept when it runs out. Whether it is in force is
// recomputed on every read with IsEffective.
package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/audit"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/config"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

// DefaultMaxEmergencyTTL caps how long an emergency override may last.
const DefaultMaxEmergencyTTL = 4 * time.Hour

var (
	// ErrRegionNotCovered is returned when a non-emergency grant asks for
	// regions outside the user's base regions.
	ErrRegionNotCovered = errors.New("requested regions not covered by user's base regions")
	// ErrAlreadyRevoked is returned when revoking a grant that is no longer
	// active.
	ErrAlreadyRevoked = errors.New("grant already revoked")
	// ErrInvalidGrant is returned for malformed grant or emergency input.
	ErrInvalidGrant = errors.New("invalid grant")
	// ErrNotApproved is returned when materializing a request that has not
	// been approved.
	ErrNotApproved = errors.New("approval request is not approved")
)

// IsEffective reports whether g is in force at now.
func IsEffective(g model.TemporaryAccessGrant, now time.Time) bool {
	return g.Effective(now)
}

// Store is the persistence the manager needs. Missing records are
// reported as config.ErrNotFound.
type Store interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	CreateGrant(ctx context.Context, g *model.TemporaryAccessGrant) error
	GetGrant(ctx context.Context, id string) (*model.TemporaryAccessGrant, error)
	ListGrants(ctx context.Context, userID string) ([]model.TemporaryAccessGrant, error)
	RevokeGrant(ctx context.Context, id, by string, at time.Time) error
}

// Options configures a Manager.
type Options struct {
	// MaxEmergencyTTL bounds emergency declarations. Zero means
	// DefaultMaxEmergencyTTL.
	MaxEmergencyTTL time.Duration
	// Invalidate is called after every issue or revoke so cached decisions
	// cannot outlive the change.
	Invalidate func()
	Now        func() time.Time
}

// Manager issues and revokes temporary grants.
type Manager struct {
	store      Store
	sink       audit.Sink
	logger     *slog.Logger
	maxTTL     time.Duration
	invalidate func()
	now        func() time.Time
}

// NewManager returns a Manager writing through store and auditing to sink.
func NewManager(store Store, sink audit.Sink, logger *slog.Logger, opts Options) *Manager {
	m := &Manager{
		store:      store,
		sink:       sink,
		logger:     logger,
		maxTTL:     opts.MaxEmergencyTTL,
		invalidate: opts.Invalidate,
		now:        opts.Now,
	}
	if m.maxTTL <= 0 {
		m.maxTTL = DefaultMaxEmergencyTTL
	}
	if m.sink == nil {
		m.sink = audit.Nop{}
	}
	if m.invalidate == nil {
		m.invalidate = func() {}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// SetInvalidator replaces the invalidation hook. It must be called before
// the manager is shared between goroutines.
func (m *Manager) SetInvalidator(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	m.invalidate = fn
}

// MaxEmergencyTTL returns the configured emergency cap.
func (m *Manager) MaxEmergencyTTL() time.Duration { return m.maxTTL }

// Grant materializes an approved request into a grant for the requester.
// Permissions, PII override and lifetime come from the workflow; regions
// come from the request and must stay within the requester's base regions.
func (m *Manager) Grant(ctx context.Context, req model.ApprovalRequest, wf model.WorkflowDefinition) (*model.TemporaryAccessGrant, error) {
	if req.Status != model.ApprovalApproved {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotApproved, req.ID, req.Status)
	}
	if wf.Action != req.Action {
		return nil, fmt.Errorf("%w: workflow %s does not match request action %s", ErrInvalidGrant, wf.Action, req.Action)
	}
	ttl := wf.DefaultTTL()
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidGrant)
	}
	u, err := m.loadUser(ctx, req.RequesterID)
	if err != nil {
		return nil, err
	}
	regions := req.RequestedRegions.Normalize()
	if !u.AllowedRegions.Covers(regions) {
		return nil, fmt.Errorf("%w: %v not within %v", ErrRegionNotCovered, regions, u.AllowedRegions)
	}

	now := m.now().UTC()
	g := &model.TemporaryAccessGrant{
		ID:                 uuid.NewString(),
		UserID:             req.RequesterID,
		GrantedPermissions: wf.AutoGrantPermissions,
		GrantedRegions:     regions,
		PIIScopeOverride:   wf.PIIScopeOverride,
		ExpiresAt:          now.Add(ttl),
		IsActive:           true,
		EscalationType:     model.EscalationApproval,
		RequestedBy:        req.RequesterID,
		ApprovedBy:         req.ApprovedBy(),
		ApprovalID:         req.ID,
		Reason:             req.Justification,
	}
	if err := m.store.CreateGrant(ctx, g); err != nil {
		return nil, fmt.Errorf("create grant: %w", err)
	}
	m.issued(ctx, g, audit.EventGrantIssued, audit.SeverityMedium)
	return g, nil
}

// EmergencyDeclaration asks for an immediate, case-bound override.
type EmergencyDeclaration struct {
	UserID        string
	CaseID        string
	Justification string
	DeclaredBy    string
	Permissions   []model.Permission
	Regions       model.RegionSet
	PIIScope      *model.PIITier
	TTL           time.Duration
}

// DeclareEmergency issues an emergency override. Emergency grants may name
// regions the user's base assignment never covered; the override then
// reaches only those regions. With no regions it reaches all of them.
func (m *Manager) DeclareEmergency(ctx context.Context, d EmergencyDeclaration) (*model.TemporaryAccessGrant, error) {
	switch {
	case strings.TrimSpace(d.CaseID) == "":
		return nil, fmt.Errorf("%w: emergency override requires a case id", ErrInvalidGrant)
	case strings.TrimSpace(d.Justification) == "":
		return nil, fmt.Errorf("%w: emergency override requires a justification", ErrInvalidGrant)
	case d.TTL <= 0:
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidGrant)
	case d.TTL > m.maxTTL:
		return nil, fmt.Errorf("%w: ttl %s exceeds maximum %s", ErrInvalidGrant, d.TTL, m.maxTTL)
	}
	for _, p := range d.Permissions {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: unknown permission %q", ErrInvalidGrant, p)
		}
	}
	if _, err := m.loadUser(ctx, d.UserID); err != nil {
		return nil, err
	}

	requestedBy := d.DeclaredBy
	if requestedBy == "" {
		requestedBy = d.UserID
	}
	now := m.now().UTC()
	g := &model.TemporaryAccessGrant{
		ID:                 uuid.NewString(),
		UserID:             d.UserID,
		GrantedPermissions: d.Permissions,
		GrantedRegions:     d.Regions.Normalize(),
		PIIScopeOverride:   d.PIIScope,
		ExpiresAt:          now.Add(d.TTL),
		IsActive:           true,
		EscalationType:     model.EscalationEmergency,
		CaseID:             strings.TrimSpace(d.CaseID),
		RequestedBy:        requestedBy,
		Reason:             d.Justification,
	}
	if err := m.store.CreateGrant(ctx, g); err != nil {
		return nil, fmt.Errorf("create emergency grant: %w", err)
	}
	m.issued(ctx, g, audit.EventEmergencyDeclared, audit.SeverityHigh)
	return g, nil
}

// Revoke ends a grant before its natural expiry.
func (m *Manager) Revoke(ctx context.Context, grantID, by, reason string) error {
	g, err := m.store.GetGrant(ctx, grantID)
	if err != nil {
		return fmt.Errorf("get grant %s: %w", grantID, err)
	}
	if !g.IsActive {
		return fmt.Errorf("grant %s: %w", grantID, ErrAlreadyRevoked)
	}
	if err := m.store.RevokeGrant(ctx, grantID, by, m.now()); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			// Lost a race with another revoke.
			return fmt.Errorf("grant %s: %w", grantID, ErrAlreadyRevoked)
		}
		return fmt.Errorf("revoke grant: %w", err)
	}
	m.invalidate()
	m.sink.LogSecurityEvent(ctx, audit.NewSecurityEvent(ctx, audit.EventGrantRevoked, audit.SeverityMedium, g.UserID, map[string]any{
		"grant_id":   g.ID,
		"revoked_by": by,
		"reason":     reason,
		"case_id":    g.CaseID,
	}))
	m.logger.Info("grant revoked", "grant_id", g.ID, "user_id", g.UserID, "revoked_by", by)
	return nil
}

// ListEffective returns the user's grants in force now.
func (m *Manager) ListEffective(ctx context.Context, userID string) ([]model.TemporaryAccessGrant, error) {
	all, err := m.store.ListGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	now := m.now()
	out := make([]model.TemporaryAccessGrant, 0, len(all))
	for _, g := range all {
		if IsEffective(g, now) {
			out = append(out, g)
		}
	}
	return out, nil
}

// List returns every grant issued to the user, in force or not.
func (m *Manager) List(ctx context.Context, userID string) ([]model.TemporaryAccessGrant, error) {
	all, err := m.store.ListGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return all, nil
}

func (m *Manager) loadUser(ctx context.Context, id string) (*model.User, error) {
	u, err := m.store.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	if !u.IsActive() {
		return nil, fmt.Errorf("%w: user %s is inactive", ErrInvalidGrant, id)
	}
	return u, nil
}

func (m *Manager) issued(ctx context.Context, g *model.TemporaryAccessGrant, event string, sev audit.Severity) {
	m.invalidate()
	details := map[string]any{
		"grant_id":        g.ID,
		"escalation_type": g.EscalationType,
		"permissions":     g.GrantedPermissions,
		"regions":         g.GrantedRegions,
		"expires_at":      g.ExpiresAt,
		"requested_by":    g.RequestedBy,
	}
	if g.CaseID != "" {
		details["case_id"] = g.CaseID
	}
	if g.ApprovalID != "" {
		details["approval_id"] = g.ApprovalID
		details["approved_by"] = g.ApprovedBy
	}
	if g.PIIScopeOverride != nil {
		details["pii_scope_override"] = g.PIIScopeOverride.String()
	}
	m.sink.LogSecurityEvent(ctx, audit.NewSecurityEvent(ctx, event, sev, g.UserID, details))
	m.logger.Info("grant issued", "grant_id", g.ID, "user_id", g.UserID, "type", g.EscalationType, "expires_at", g.ExpiresAt)
}
