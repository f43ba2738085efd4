package auth

import (
	"context"

	"github.com/samber/oops"
)

// PermissionGate makes request-time authorization decisions.
type PermissionGate struct {
	resolver *PermissionResolver
	recorder Recorder
}

// NewPermissionGate creates a gate. recorder may be nil.
func NewPermissionGate(resolver *PermissionResolver, recorder Recorder) *PermissionGate {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &PermissionGate{resolver: resolver, recorder: recorder}
}

// Authorize returns nil when identity may perform an operation requiring all
// of required. Rules apply in order: nothing required allows anyone, a nil
// identity is ErrNotAuthenticated, SUPER_ADMIN is allowed without
// resolution, otherwise every required permission must be held.
func (g *PermissionGate) Authorize(ctx context.Context, identity *Identity, required []string) error {
	err := g.authorize(ctx, identity, required)
	g.recorder.Outcome(FlowAuthorize, outcomeOf(err))
	return err
}

func (g *PermissionGate) authorize(ctx context.Context, identity *Identity, required []string) error {
	if len(required) == 0 {
		return nil
	}
	if identity == nil || identity.UserID == "" {
		return oops.Code(CodeNotAuthenticated).Wrap(ErrNotAuthenticated)
	}
	if identity.HasRole(RoleSuperAdmin) {
		return nil
	}

	perms, err := g.resolver.Resolve(ctx, identity.UserID)
	if err != nil {
		return err
	}
	if missing := perms.Missing(required); len(missing) > 0 {
		return oops.Code(CodeInsufficientPermissions).
			With("user_id", identity.UserID).
			With("missing", missing).
			Wrap(ErrInsufficientPermissions)
	}
	return nil
}
