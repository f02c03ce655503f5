package authflow

import (
	"context"
	"errors"
	"net/http"

	"github.com/avoinelab/ssobridge/internal/httpx"
	"github.com/avoinelab/ssobridge/internal/session"
	"github.com/avoinelab/ssobridge/internal/store"
	"github.com/go-chi/chi/v5"
)

type ctxKey int

const sessionKey ctxKey = 0

// SessionFrom returns the session placed in the context by
// RequireActiveSession.
func SessionFrom(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*session.Session)
	return s, ok
}

// Capture is the middleware that watches every request for SSO signals,
// the way the original bridge hooked the platform's request
// bootstrapping. Non-SSO traffic passes through untouched.
func (c *Controller) Capture() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c.CaptureLogin(w, r) {
				return
			}
			if c.CaptureLogout(w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireActiveSession gates protected handlers: the request must carry
// a valid session, and an SSO principal must still be active on the
// remote service. Failure destroys the session and redirects to the
// login-failed page.
func (c *Controller) RequireActiveSession() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			s, err := c.deps.Sessions.Current(ctx, r)
			if err != nil {
				http.Redirect(w, r, c.deps.URLs.LoginFailedURL(ctx), http.StatusFound)
				return
			}

			if c.IsSSOUser(ctx, s.UserID) && !c.deps.Liveness.IsActive(ctx, s.UserID) {
				_ = c.deps.Sessions.Destroy(ctx, w, r)
				http.Redirect(w, r, c.deps.URLs.LoginFailedURL(ctx), http.StatusFound)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionKey, s)))
		})
	}
}

// Mount registers the local auth endpoints.
func (c *Controller) Mount(r chi.Router) {
	r.Post("/login", c.handlePasswordLogin)
	r.Post("/logout", c.OnLocalLogout)
}

// handlePasswordLogin is the host platform's pre-flight check before
// its own credential verification: federated accounts are refused here
// so no password path ever opens for them. The bridge stores no
// passwords, so a positive answer only means "go ahead and verify".
func (c *Controller) handlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	login := r.PostFormValue("login")
	if login == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_login", "login is required")
		return
	}

	u, err := c.deps.Store.GetUserByLogin(r.Context(), login)
	if errors.Is(err, store.ErrNotFound) {
		// Unknown logins are allowed through; the platform's own
		// verification will reject them without leaking existence.
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"allowed": true})
		return
	}
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "store_unavailable",
			"could not look up the account")
		return
	}

	if !c.deps.Guard.AllowPasswordLogin(r.Context(), u.ID) {
		httpx.WriteError(w, http.StatusForbidden, "sso_account",
			"password login is disabled for federated accounts")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"allowed": true})
}
