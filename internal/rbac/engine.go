package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReasonOwnScope is reported when an OWN permission matched but the target
// belongs to someone else.
const ReasonOwnScope = "scope restricted to own resources"

// CheckRequest asks whether UserID may perform Action on Resource.
type CheckRequest struct {
	UserID             int64    `json:"user_id" validate:"required,gt=0"`
	Resource           Resource `json:"resource" validate:"required"`
	Action             Action   `json:"action" validate:"required"`
	TargetDepartmentID *int64   `json:"target_department_id,omitempty"`
	TargetOwnerID      *int64   `json:"target_owner_id,omitempty"`
}

// Code returns the canonical code of the requested pair.
func (r CheckRequest) Code() string {
	return PermissionCode(r.Resource, r.Action)
}

// Decision is the outcome of a permission check. A deny always carries a Reason.
type Decision struct {
	Allowed           bool        `json:"allowed"`
	Reason            string      `json:"reason,omitempty"`
	MatchedPermission *Permission `json:"matched_permission,omitempty"`
	EffectiveScope    Scope       `json:"effective_scope,omitempty"`
}

// Check names one (resource, action) pair of a batch check.
type Check struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// Engine evaluates permission checks against the current stored state. It
// holds no authorization data of its own.
type Engine struct {
	source   GrantSource
	notifier DecisionNotifier
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine constructs an Engine. notifier and metrics may be nil.
func NewEngine(source GrantSource, notifier DecisionNotifier, metrics *Metrics, logger *slog.Logger) *Engine {
	return &Engine{source: source, notifier: notifier, metrics: metrics, logger: logger, now: time.Now}
}

// CheckPermission decides whether the request is allowed. A deny is a normal
// return value; the error is only set when the answer could not be computed.
//
// Without TargetDepartmentID only global assignments are considered; with it,
// assignments scoped to that department count as well.
func (e *Engine) CheckPermission(ctx context.Context, req CheckRequest) (Decision, error) {
	req, err := validateCheck(req)
	if err != nil {
		return Decision{}, err
	}
	started := time.Now()
	set, err := e.gather(ctx, req.UserID, req.TargetDepartmentID, false)
	if err != nil {
		return Decision{}, fmt.Errorf("rbac: gather permissions: %w", err)
	}
	decision := evaluate(set.permissions, req)
	e.report(ctx, req, decision, time.Since(started))
	return decision, nil
}

// Authorize is the guard form of CheckPermission: a deny is returned as a
// *DeniedError alongside the decision.
func (e *Engine) Authorize(ctx context.Context, req CheckRequest) (Decision, error) {
	decision, err := e.CheckPermission(ctx, req)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		return decision, &DeniedError{Resource: normalizeResource(req.Resource), Action: normalizeAction(req.Action), Reason: decision.Reason}
	}
	return decision, nil
}

// CheckPermissions answers several capability questions from one gathered
// permission set, keyed by PermissionCode. Only the exact-or-MANAGE rule is
// applied; ownership is not validated here.
func (e *Engine) CheckPermissions(ctx context.Context, userID int64, checks []Check) (map[string]bool, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id required", ErrValidation)
	}
	set, err := e.gather(ctx, userID, nil, true)
	if err != nil {
		return nil, fmt.Errorf("rbac: gather permissions: %w", err)
	}
	result := make(map[string]bool, len(checks))
	for _, c := range checks {
		resource, action := normalizeResource(c.Resource), normalizeAction(c.Action)
		result[PermissionCode(resource, action)] = len(matching(set.permissions, resource, action)) > 0
	}
	return result, nil
}

// HasRole reports whether the user holds an effective assignment of the role.
// A nil departmentID matches assignments in any department.
func (e *Engine) HasRole(ctx context.Context, userID int64, roleCode string, departmentID *int64) (bool, error) {
	code := normalizeCode(roleCode)
	if userID <= 0 || code == "" {
		return false, fmt.Errorf("%w: user id and role code required", ErrValidation)
	}
	set, err := e.gather(ctx, userID, departmentID, true)
	if err != nil {
		return false, fmt.Errorf("rbac: gather roles: %w", err)
	}
	for _, g := range set.grants {
		if g.Role.Code == code {
			return true, nil
		}
	}
	return false, nil
}

type permissionSet struct {
	grants      []AssignmentGrant
	permissions []Permission
	gatheredAt  time.Time
}

// gather loads the user's effective grants. With anyDepartment a nil
// departmentID keeps assignments from every department; otherwise a nil
// departmentID keeps global assignments only.
func (e *Engine) gather(ctx context.Context, userID int64, departmentID *int64, anyDepartment bool) (permissionSet, error) {
	now := e.now()
	rows, err := e.source.ListEffectiveGrants(ctx, userID, departmentID, now)
	if err != nil {
		return permissionSet{}, err
	}
	set := permissionSet{gatheredAt: now}
	seen := make(map[int64]struct{})
	for _, g := range rows {
		a := g.Assignment
		if a.UserID != userID || !a.EffectiveAt(now) || !g.Role.IsActive {
			continue
		}
		switch {
		case departmentID != nil:
			if !a.IsGlobal() && !sameDepartment(a.DepartmentID, departmentID) {
				continue
			}
		case !anyDepartment:
			if !a.IsGlobal() {
				continue
			}
		}
		set.grants = append(set.grants, g)
		for _, p := range g.Permissions {
			if !p.IsActive {
				continue
			}
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			set.permissions = append(set.permissions, p)
		}
	}
	return set, nil
}

// validateCheck returns req with resource and action in canonical upper case.
func validateCheck(req CheckRequest) (CheckRequest, error) {
	req.Resource = normalizeResource(req.Resource)
	req.Action = normalizeAction(req.Action)
	if err := validateStruct(req); err != nil {
		return req, err
	}
	if !req.Resource.Valid() {
		return req, fmt.Errorf("%w: resource required", ErrValidation)
	}
	if !req.Action.Valid() {
		return req, fmt.Errorf("%w: unknown action %q", ErrValidation, req.Action)
	}
	return req, nil
}

// evaluate applies steps 2-6 of the decision algorithm to a gathered set.
func evaluate(perms []Permission, req CheckRequest) Decision {
	matches := matching(perms, req.Resource, req.Action)
	if len(matches) == 0 {
		return Decision{Reason: "no permission for " + req.Code()}
	}
	best := broadest(matches)
	if best.Scope == ScopeOwn && req.TargetOwnerID != nil && *req.TargetOwnerID != req.UserID {
		return Decision{Reason: ReasonOwnScope, MatchedPermission: &best, EffectiveScope: best.Scope}
	}
	return Decision{Allowed: true, MatchedPermission: &best, EffectiveScope: best.Scope}
}

// matching returns exact (resource, action) matches, falling back to MANAGE
// permissions on the same resource when no exact match exists.
func matching(perms []Permission, resource Resource, action Action) []Permission {
	var exact, manage []Permission
	for _, p := range perms {
		if p.Resource != resource {
			continue
		}
		switch {
		case p.Action == action:
			exact = append(exact, p)
		case p.Action == ActionManage:
			manage = append(manage, p)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return manage
}

// broadest picks the widest scope; ties go to the lowest permission ID.
func broadest(matches []Permission) Permission {
	best := matches[0]
	for _, p := range matches[1:] {
		if p.Scope.Broader(best.Scope) || (p.Scope == best.Scope && p.ID < best.ID) {
			best = p
		}
	}
	return best
}

func (e *Engine) report(ctx context.Context, req CheckRequest, decision Decision, elapsed time.Duration) {
	e.metrics.ObserveDecision(req.Resource, req.Action, decision.Allowed, elapsed)
	if e.notifier == nil {
		return
	}
	event := newDecisionEvent(req, decision, e.now())
	defer func() {
		if r := recover(); r != nil && e.logger != nil {
			e.logger.Warn("rbac decision notifier panicked", slog.Any("panic", r))
		}
	}()
	if err := e.notifier.NotifyDecision(context.WithoutCancel(ctx), event); err != nil && e.logger != nil {
		e.logger.Debug("rbac decision notify", slog.Any("error", err))
	}
}
