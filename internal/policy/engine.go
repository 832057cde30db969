// Package policy is the access-control decision engine. It decides, for a
// user acting on a resource, whether the action is allowed, which
// obligations apply and why a denial occurred.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/audit"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/config"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/ids"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/metrics"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/mfa"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/rbac"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/scope"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/workflow"
)

// DefaultPolicyVersion is stamped on decisions when none is configured.
const DefaultPolicyVersion = "2025.1"

// ReasonSystemError is the only reason given for a decision that failed
// closed.
const ReasonSystemError = "system error: evaluation failed closed"

// ErrUnknownUser is returned by the directory helpers for unknown ids.
var ErrUnknownUser = errors.New("unknown user")

// Names of the check that decided a denial, as reported to metrics.
const (
	checkStructural   = "structural"
	checkInactive     = "inactive"
	checkNoRoles      = "no_roles"
	checkExpired      = "expired"
	checkNotPermitted = "not_permitted"
	checkRegion       = "region"
	checkPII          = "pii"
	checkSystem       = "system"
)

// Directory is the read-only view of users and roles the engine consumes.
// Unknown ids are reported as config.ErrNotFound.
type Directory interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetRole(ctx context.Context, id string) (*model.Role, error)
	ListRoles(ctx context.Context) ([]model.Role, error)
}

// RoleRevisioner is implemented by directories that can report cheaply
// whether the role table changed. The engine compares the revision before
// every evaluation and reloads the role graph when it moves.
type RoleRevisioner interface {
	RolesRevision(ctx context.Context) (string, error)
}

// DefaultRoleRefresh bounds the age of the role graph for directories that
// do not implement RoleRevisioner.
const DefaultRoleRefresh = 30 * time.Second

// Options configures an Engine. Only Directory is required.
type Options struct {
	Workflows     *workflow.Registry
	Sink          audit.Sink
	Cache         *Cache
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Now           func() time.Time
	PolicyVersion string
	// RoleRefresh is the longest a role graph is used before it is rebuilt,
	// when the directory cannot report a revision. Negative disables it.
	RoleRefresh time.Duration
}

// roleSnapshot is a resolver together with what it was built from.
type roleSnapshot struct {
	resolver *rbac.Resolver
	revision string
	loadedAt time.Time
}

// Engine evaluates access requests. It is safe for concurrent use.
type Engine struct {
	dir       Directory
	workflows *workflow.Registry
	sink      audit.Sink
	cache     *Cache
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	version   string
	refresh   time.Duration

	roles atomic.Pointer[roleSnapshot]
}

// NewEngine loads the role graph from dir and returns an engine over it.
func NewEngine(ctx context.Context, dir Directory, opts Options) (*Engine, error) {
	e := &Engine{
		dir:       dir,
		workflows: opts.Workflows,
		sink:      opts.Sink,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
		version:   opts.PolicyVersion,
		refresh:   opts.RoleRefresh,
	}
	if e.workflows == nil {
		e.workflows = workflow.DefaultRegistry()
	}
	if e.sink == nil {
		e.sink = audit.Nop{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.version == "" {
		e.version = DefaultPolicyVersion
	}
	if e.refresh == 0 {
		e.refresh = DefaultRoleRefresh
	}
	snap, err := e.loadRoles(ctx)
	if err != nil {
		return nil, err
	}
	e.roles.Store(snap)
	return e, nil
}

// loadRoles reads the revision before the roles, so a change landing in
// between is picked up by the next refresh.
func (e *Engine) loadRoles(ctx context.Context) (*roleSnapshot, error) {
	snap := &roleSnapshot{loadedAt: e.now()}
	if rv, ok := e.dir.(RoleRevisioner); ok {
		rev, err := rv.RolesRevision(ctx)
		if err != nil {
			return nil, fmt.Errorf("roles revision: %w", err)
		}
		snap.revision = rev
	}
	roles, err := e.dir.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	g, err := rbac.NewGraph(roles)
	if err != nil {
		return nil, fmt.Errorf("build role graph: %w", err)
	}
	snap.resolver = rbac.NewResolver(g)
	return snap, nil
}

// ReloadRoles rebuilds the role graph from the directory and swaps it in.
// On error the current graph stays in place.
func (e *Engine) ReloadRoles(ctx context.Context) error {
	snap, err := e.loadRoles(ctx)
	if err != nil {
		return err
	}
	e.roles.Store(snap)
	e.Invalidate()
	n := snap.resolver.Graph().Len()
	e.sink.LogSecurityEvent(ctx, audit.NewSecurityEvent(ctx, audit.EventRolesReloaded, audit.SeverityLow, audit.ActorFromContext(ctx), map[string]any{
		"roles":    n,
		"revision": snap.revision,
	}))
	e.logger.Info("role graph reloaded", "roles", n, "revision", snap.revision)
	return nil
}

// resolver returns a resolver no staler than the directory revision, or
// than the refresh interval when the directory has no revision.
func (e *Engine) resolver(ctx context.Context) (*rbac.Resolver, error) {
	snap := e.roles.Load()
	if rv, ok := e.dir.(RoleRevisioner); ok {
		rev, err := rv.RolesRevision(ctx)
		if err != nil {
			return nil, fmt.Errorf("roles revision: %w", err)
		}
		if rev == snap.revision {
			return snap.resolver, nil
		}
	} else if e.refresh < 0 || e.now().Sub(snap.loadedAt) < e.refresh {
		return snap.resolver, nil
	}
	if err := e.ReloadRoles(ctx); err != nil {
		return nil, err
	}
	return e.roles.Load().resolver, nil
}

// Invalidate drops every cached decision. Call it after any role, grant or
// workflow change.
func (e *Engine) Invalidate() {
	if e.cache != nil {
		e.cache.Invalidate()
	}
}

// Workflows returns the workflow table the engine consults.
func (e *Engine) Workflows() *workflow.Registry { return e.workflows }

// PolicyVersion returns the version stamped on decisions.
func (e *Engine) PolicyVersion() string { return e.version }

// Roles returns the loaded roles, highest level first.
func (e *Engine) Roles() []model.Role { return e.roles.Load().resolver.Graph().Roles() }

// outcome is a decision together with what produced it.
type outcome struct {
	decision  model.PolicyDecision
	check     string
	perms     model.PermissionSet
	changeAt  time.Time
	maskScope model.PIITier
}

// EvaluatePolicy decides req. It never fails: malformed input, missing
// permissions and system errors all come back as a deny with reasons.
func (e *Engine) EvaluatePolicy(ctx context.Context, req model.PolicyEvaluationRequest) model.PolicyDecision {
	return e.evaluate(ctx, req).decision
}

func (e *Engine) evaluate(ctx context.Context, req model.PolicyEvaluationRequest) outcome {
	start := time.Now()
	now := e.now().UTC()
	if req.Context.Operation == "" {
		req.Context.Operation = model.OperationRead
	}

	// Role changes must reach the cache before it is consulted.
	resolver, err := e.resolver(ctx)
	if err != nil {
		out := e.failClosed(ctx, req, err)
		e.stamp(&out, now, start)
		e.finish(ctx, req, out, start)
		return out
	}

	var gen uint64
	if e.cache != nil {
		gen = e.cache.Generation()
		if out, ok := e.cache.get(keyFor(req), now); ok {
			e.metrics.CacheHit()
			out.decision.Metadata.Cached = true
			out.decision.Metadata.EvaluationTimeMs = elapsedMs(start)
			e.logMasking(ctx, req, out, now)
			e.finish(ctx, req, out, start)
			return out
		}
		e.metrics.CacheMiss()
	}

	out := e.safeDecide(ctx, req, resolver, now)
	e.stamp(&out, now, start)
	if e.cache != nil {
		e.cache.put(keyFor(req), out, gen, now, out.changeAt)
	}
	e.logMasking(ctx, req, out, now)
	e.finish(ctx, req, out, start)
	return out
}

func (e *Engine) stamp(out *outcome, now, start time.Time) {
	out.decision.Metadata.EvaluatedAt = now
	out.decision.Metadata.PolicyVersion = e.version
	out.decision.Metadata.EvaluationTimeMs = elapsedMs(start)
}

func (e *Engine) finish(ctx context.Context, req model.PolicyEvaluationRequest, out outcome, start time.Time) {
	e.metrics.ObserveDecision(req.Action, out.decision, out.check, time.Since(start))
	e.sink.LogAccess(ctx, audit.NewAccessRecord(req, out.decision))
}

// safeDecide runs decide and turns errors and panics into a closed
// decision.
func (e *Engine) safeDecide(ctx context.Context, req model.PolicyEvaluationRequest, resolver *rbac.Resolver, now time.Time) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("policy evaluation panicked", "panic", r, "stack", string(debug.Stack()))
			out = e.failClosed(ctx, req, fmt.Errorf("panic: %v", r))
		}
	}()
	out, err := e.decide(ctx, req, resolver, now)
	if err != nil {
		return e.failClosed(ctx, req, err)
	}
	return out
}

func (e *Engine) failClosed(ctx context.Context, req model.PolicyEvaluationRequest, err error) outcome {
	e.logger.Error("policy evaluation failed closed", "user_id", req.User.ID, "action", req.Action, "error", err)
	e.sink.LogSecurityEvent(ctx, audit.NewSecurityEvent(ctx, audit.EventEvaluationFailed, audit.SeverityHigh, req.User.ID, map[string]any{
		"action":      req.Action,
		"resource_id": req.Resource.ID,
		"region_id":   req.Resource.RegionID,
		"error":       err.Error(),
	}))
	return outcome{
		decision: model.PolicyDecision{
			Decision: model.DecisionDeny,
			Reasons:  []string{ReasonSystemError},
			Obligations: model.Obligations{
				RequireMFA: e.requiresMFA(req.Action),
				AuditLevel: model.AuditEnhanced,
				MaskFields: []string{},
			},
			Metadata: model.DecisionMetadata{Errored: true},
		},
		check: checkSystem,
	}
}

// decide runs the checks in precedence order. The first failing check
// decides the denial. Only directory failures are returned as errors.
func (e *Engine) decide(ctx context.Context, req model.PolicyEvaluationRequest, resolver *rbac.Resolver, now time.Time) (outcome, error) {
	res := req.Resource
	// The MFA obligation and audit level are reported on denials too.
	obl := model.Obligations{
		RequireMFA: e.requiresMFA(req.Action),
		AuditLevel: auditLevel(req, false),
		MaskFields: []string{},
	}
	deny := func(check, reason string) outcome {
		return outcome{
			decision: model.PolicyDecision{Decision: model.DecisionDeny, Reasons: []string{reason}, Obligations: obl},
			check:    check,
		}
	}

	// 1. Structure.
	if reason := structuralProblem(req); reason != "" {
		return deny(checkStructural, "invalid context: "+reason), nil
	}
	u, err := e.dir.GetUser(ctx, req.User.ID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return deny(checkStructural, fmt.Sprintf("invalid context: unknown user %s", req.User.ID)), nil
		}
		return outcome{}, fmt.Errorf("get user %s: %w", req.User.ID, err)
	}

	// 2. Status.
	if !u.IsActive() {
		return deny(checkInactive, fmt.Sprintf("user %s is inactive", u.ID)), nil
	}

	perms := resolver.ResolvePermissions(u, now)
	perms.Merge(scope.GrantedPermissions(u, now))
	changeAt := scope.NextExpiry(u, now)
	expired := expiredSources(resolver, u, req.Action, now)

	// 3. Role presence.
	if len(perms) == 0 {
		reason := fmt.Sprintf("no roles in effect for user %s", u.ID)
		if expired != "" {
			reason += fmt.Sprintf(" (%s expired)", expired)
		}
		out := deny(checkNoRoles, reason)
		out.changeAt = changeAt
		return out, nil
	}

	// 4. Freshness. 5. Membership.
	if !perms.Has(req.Action) {
		out := deny(checkNotPermitted, fmt.Sprintf("action %s not permitted", req.Action))
		if expired != "" {
			out = deny(checkExpired, fmt.Sprintf("access to %s expired: %s", req.Action, expired))
		}
		out.perms, out.changeAt = perms, changeAt
		return out, nil
	}

	var reasons []string
	overrideUsed := false

	// 6. Regional containment.
	if !req.Action.RegionAgnostic() && !scope.StandingRegions(u, now).Contains(res.RegionID) {
		g, ok := scope.EmergencyOverride(u, req.Action, res.RegionID, now)
		if !ok {
			out := deny(checkRegion, fmt.Sprintf("resource region %s outside allowed regions", res.RegionID))
			out.perms, out.changeAt = perms, changeAt
			return out, nil
		}
		overrideUsed = true
		reasons = append(reasons, fmt.Sprintf("Cross-region override granted (emergency override, case %s)", g.CaseID))
	}

	// 7. PII gate and masking.
	tier := scope.EffectivePIIScope(u, now)
	if res.ContainsPII && res.DataClass == model.DataRestricted && (tier != model.PIIFull || !req.Context.MFAPresent) {
		out := deny(checkPII, "PII access to restricted data requires full PII scope and verified MFA")
		out.perms, out.changeAt = perms, changeAt
		return out, nil
	}
	honored := scope.HonoredPIIScope(tier, res.ContainsPII, req.Context.MFAPresent)
	obl.MaskFields = MaskFields(res, honored, perms)

	obl.AuditLevel = auditLevel(req, overrideUsed)

	reasons = append(reasons, fmt.Sprintf("action %s permitted", req.Action))
	if len(obl.MaskFields) > 0 {
		reasons = append(reasons, fmt.Sprintf("fields masked at %s PII scope", honored))
	}
	return outcome{
		decision:  model.PolicyDecision{Decision: model.DecisionAllow, Reasons: reasons, Obligations: obl},
		perms:     perms,
		changeAt:  changeAt,
		maskScope: honored,
	}, nil
}

// logMasking records the fields an allow withholds. It runs for cached
// decisions too; every served masked view is audited.
func (e *Engine) logMasking(ctx context.Context, req model.PolicyEvaluationRequest, out outcome, now time.Time) {
	fields := out.decision.Obligations.MaskFields
	if !out.decision.Allowed() || len(fields) == 0 {
		return
	}
	e.sink.LogDataMasking(ctx, audit.MaskingEvent{
		ID:           ids.New(),
		Timestamp:    now,
		RequestID:    req.Context.RequestID,
		UserID:       req.User.ID,
		ResourceType: req.Resource.Type,
		ResourceID:   req.Resource.ID,
		PIIScope:     out.maskScope,
		Fields:       slices.Clone(fields),
	})
}

// structuralProblem describes what is malformed about req, or returns "".
func structuralProblem(req model.PolicyEvaluationRequest) string {
	res := req.Resource
	switch {
	case strings.TrimSpace(req.User.ID) == "":
		return "missing user id"
	case !res.Type.Valid():
		return fmt.Sprintf("unknown resource type %q", res.Type)
	case !req.Action.Valid():
		return fmt.Sprintf("unknown action %q", req.Action)
	case strings.TrimSpace(res.RegionID) == "" && !req.Action.RegionAgnostic():
		return "missing resource region"
	case res.Type == model.ResourceVehicle && !res.OwnershipType.Valid():
		return fmt.Sprintf("unknown ownership type %q", res.OwnershipType)
	case res.OwnershipType != model.OwnershipUnknown && !res.OwnershipType.Valid():
		return fmt.Sprintf("unknown ownership type %q", res.OwnershipType)
	case res.DataClass < model.DataPublic || res.DataClass > model.DataRestricted:
		return fmt.Sprintf("unknown data class %d", res.DataClass)
	case req.Context.Operation != model.OperationRead && req.Context.Operation != model.OperationWrite:
		return fmt.Sprintf("unknown operation %q", req.Context.Operation)
	}
	return ""
}

// expiredSources names the expired assignments and grants that would have
// carried action, or returns "".
func expiredSources(r *rbac.Resolver, u *model.User, action model.Permission, now time.Time) string {
	var parts []string
	for _, a := range r.ExpiredSources(u, action, now) {
		parts = append(parts, fmt.Sprintf("role assignment %s", a.RoleID))
	}
	for _, g := range scope.ExpiredGrants(u, action, now) {
		if g.IsActive {
			parts = append(parts, fmt.Sprintf("grant %s", g.ID))
		}
	}
	return strings.Join(parts, ", ")
}

// sensitiveActions always carry an MFA obligation.
var sensitiveActions = model.NewPermissionSet(
	model.ApproveFinancialTransaction,
	model.ApprovePayoutBatches,
	model.DecommissionVehicles,
	model.CrossRegionOverride,
	model.UnmaskPII,
	model.ViewPIIFull,
)

func (e *Engine) requiresMFA(action model.Permission) bool {
	if sensitiveActions.Has(action) || mfa.RequiresStepUp(action) {
		return true
	}
	wf, ok := e.workflows.GetWorkflowDefinition(action)
	return ok && wf.MFARequiredForApproval
}

func auditLevel(req model.PolicyEvaluationRequest, overrideUsed bool) model.AuditLevel {
	res := req.Resource
	switch {
	case overrideUsed,
		res.DataClass == model.DataRestricted,
		res.ContainsPII,
		req.Context.Operation == model.OperationWrite && res.DataClass.AtLeast(model.DataConfidential):
		return model.AuditEnhanced
	}
	return model.AuditStandard
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
