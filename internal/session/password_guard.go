package session

import (
	"context"

	"github.com/avoinelab/ssobridge/internal/hooks"
	"github.com/avoinelab/ssobridge/internal/observability/logger"
	"github.com/avoinelab/ssobridge/internal/store"
)

// GuardHooks carry the refusal notifications. The payload is the local
// user id that was refused.
type GuardHooks struct {
	PreventedPasswordLogin hooks.Action[string]
	PreventedPasswordReset hooks.Action[string]
}

// PasswordGuard enforces that SSO-provisioned accounts have no usable
// local credential path: no password login, no password reset. Plain
// local accounts pass through untouched.
type PasswordGuard struct {
	Store store.UserStore
	Hooks *GuardHooks
}

func NewPasswordGuard(s store.UserStore, h *GuardHooks) *PasswordGuard {
	if h == nil {
		h = &GuardHooks{}
	}
	return &PasswordGuard{Store: s, Hooks: h}
}

// AllowPasswordLogin reports whether userID may authenticate with a
// local password.
func (g *PasswordGuard) AllowPasswordLogin(ctx context.Context, userID string) bool {
	if !store.IsSSOUser(ctx, g.Store, userID) {
		return true
	}
	logger.From(ctx).Info("refused password login for federated account",
		logger.Component("session"), logger.UserID(userID))
	g.Hooks.PreventedPasswordLogin.Fire(userID)
	return false
}

// AllowPasswordReset reports whether userID may reset a local password.
func (g *PasswordGuard) AllowPasswordReset(ctx context.Context, userID string) bool {
	if !store.IsSSOUser(ctx, g.Store, userID) {
		return true
	}
	logger.From(ctx).Info("refused password reset for federated account",
		logger.Component("session"), logger.UserID(userID))
	g.Hooks.PreventedPasswordReset.Fire(userID)
	return false
}
