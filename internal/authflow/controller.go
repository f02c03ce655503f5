// Package authflow is the top of the bridge: it watches incoming
// traffic for SSO signals, walks a login capture from validation to an
// established local session, and tears the session down in lockstep
// with the remote one. Every failure resolves to a redirect or a no-op,
// never an error page with detail.
package authflow

import (
	"context"
	"net/http"
	"strings"

	"github.com/avoinelab/ssobridge/internal/hooks"
	"github.com/avoinelab/ssobridge/internal/httpx"
	"github.com/avoinelab/ssobridge/internal/identity"
	"github.com/avoinelab/ssobridge/internal/liveness"
	"github.com/avoinelab/ssobridge/internal/observability/logger"
	"github.com/avoinelab/ssobridge/internal/provision"
	"github.com/avoinelab/ssobridge/internal/session"
	"github.com/avoinelab/ssobridge/internal/store"
)

// Form field and callback path the remote service uses.
const (
	FieldSSOID     = "ssoid"
	FieldReturnURL = "return"
	LogoutPath     = "sso-logout"
)

// LoginContext is the payload of the pre-session and post-login
// notifications.
type LoginContext struct {
	User     *store.User
	Identity *identity.Identity
	Created  bool
}

// FailureContext is the payload of the failed-login notification. Stage
// names the step that failed; Err may be nil for boolean refusals like
// a negative activity check.
type FailureContext struct {
	Stage string
	SSOID string
	Err   error
}

// Hooks are the flow-level extension points. Value filters receive the
// request context; notifications are fire-and-forget and cannot veto.
type Hooks struct {
	ServiceID      hooks.Filter[string, context.Context]
	Domain         hooks.Filter[string, context.Context]
	Key            hooks.Filter[string, context.Context]
	APIURL         hooks.Filter[string, context.Context]
	LoginURL       hooks.Filter[string, string]
	LogoutURL      hooks.Filter[string, context.Context]
	LoginFailedURL hooks.Filter[string, context.Context]

	// LogoutMessage sees the confirmation body served to the remote
	// logout frame; the context is the local home URL.
	LogoutMessage hooks.Filter[string, string]

	BeforeSession hooks.Action[LoginContext]
	AfterLogin    hooks.Action[LoginContext]

	// UserLoggedIn mirrors the host platform's own login notification,
	// carrying the login name alongside the user.
	UserLoggedIn hooks.Action[UserLogin]

	LoginFailed hooks.Action[FailureContext]
	AfterLogout hooks.Action[string]
}

// UserLogin is the payload of the UserLoggedIn notification.
type UserLogin struct {
	Login string
	User  *store.User
}

// Deps holds the controller's collaborators.
type Deps struct {
	URLs        *URLs
	Resolver    identity.Resolver
	Liveness    liveness.Checker
	Provisioner provision.Provisioner
	Store       store.UserStore
	Sessions    session.Manager
	Guard       *session.PasswordGuard
	Hooks       *Hooks
}

// Controller orchestrates login and logout capture. It holds no mutable
// state; every request runs through it independently.
type Controller struct {
	deps Deps
}

func New(deps Deps) *Controller {
	if deps.Hooks == nil {
		deps.Hooks = &Hooks{}
	}
	return &Controller{deps: deps}
}

// CaptureLogin inspects the request for an SSO login signal and, when
// present, runs the full capture. It reports whether the request was
// consumed; false means this was not an SSO callback and normal
// handling should continue.
func (c *Controller) CaptureLogin(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	ssoid := strings.TrimSpace(r.PostFormValue(FieldSSOID))
	if ssoid == "" {
		return false
	}

	ctx := r.Context()
	log := logger.From(ctx).With(logger.Component("authflow"))

	id, err := c.deps.Resolver.Validate(ctx, ssoid)
	if err != nil {
		c.failLogin(w, r, FailureContext{Stage: "validate", SSOID: ssoid, Err: err})
		return true
	}

	if !c.deps.Liveness.IsRemoteUserActive(ctx, id) {
		c.failLogin(w, r, FailureContext{Stage: "activity", SSOID: ssoid})
		return true
	}

	u, created, err := c.deps.Provisioner.ResolveOrCreate(ctx, id)
	if err != nil {
		c.failLogin(w, r, FailureContext{Stage: "provision", SSOID: ssoid, Err: err})
		return true
	}

	if err := c.deps.Provisioner.Refresh(ctx, u.ID, id); err != nil {
		c.failLogin(w, r, FailureContext{Stage: "refresh", SSOID: ssoid, Err: err})
		return true
	}

	lctx := LoginContext{User: u, Identity: id, Created: created}
	c.deps.Hooks.BeforeSession.Fire(lctx)

	if _, err := c.deps.Sessions.Establish(ctx, w, u.ID, true); err != nil {
		c.failLogin(w, r, FailureContext{Stage: "session", SSOID: ssoid, Err: err})
		return true
	}

	c.deps.Hooks.AfterLogin.Fire(lctx)
	c.deps.Hooks.UserLoggedIn.Fire(UserLogin{Login: u.Login, User: u})
	httpx.RecordLogin("success")

	log.Info("sso login captured",
		logger.UserID(u.ID), logger.IdP(id.IdP))

	c.deps.URLs.SafeRedirect(w, r, r.PostFormValue(FieldReturnURL), c.deps.URLs.HomeURL())
	return true
}

// failLogin is the single funnel for every failed capture: notify,
// drop any partial session, and send the browser to the failure page.
func (c *Controller) failLogin(w http.ResponseWriter, r *http.Request, fc FailureContext) {
	ctx := r.Context()

	logger.From(ctx).Warn("sso login capture failed",
		logger.Component("authflow"),
		logger.Op(fc.Stage),
		logger.Err(fc.Err),
	)
	httpx.RecordLogin("failure")
	c.deps.Hooks.LoginFailed.Fire(fc)

	_ = c.deps.Sessions.Destroy(ctx, w, r)
	http.Redirect(w, r, c.deps.URLs.LoginFailedURL(ctx), http.StatusFound)
}

// CaptureLogout handles the callback the remote logout page embeds in a
// hidden frame. The frame expects a 200 for an SSO principal; anything
// else is either passed through or bounced home.
func (c *Controller) CaptureLogout(w http.ResponseWriter, r *http.Request) bool {
	if strings.Trim(r.URL.Path, "/") != LogoutPath {
		return false
	}

	ctx := r.Context()

	s, err := c.deps.Sessions.Current(ctx, r)
	if err != nil {
		// No active session: nothing to tear down.
		return false
	}

	if !store.IsSSOUser(ctx, c.deps.Store, s.UserID) {
		http.Redirect(w, r, c.deps.URLs.HomeURL(), http.StatusFound)
		return true
	}

	_ = c.deps.Sessions.Destroy(ctx, w, r)
	c.deps.Hooks.AfterLogout.Fire(s.UserID)

	logger.From(ctx).Info("sso logout captured",
		logger.Component("authflow"), logger.UserID(s.UserID))

	home := c.deps.URLs.HomeURL()
	msg := c.deps.Hooks.LogoutMessage.Apply(
		"You have been logged out. Back to the site: "+home, home)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(msg))
	return true
}

// OnLocalLogout ends the local session. For an SSO principal the
// browser continues to the remote logout endpoint so both sessions end
// together; everyone else goes home.
func (c *Controller) OnLocalLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, err := c.deps.Sessions.Current(ctx, r)
	if err != nil {
		http.Redirect(w, r, c.deps.URLs.HomeURL(), http.StatusFound)
		return
	}

	isSSO := store.IsSSOUser(ctx, c.deps.Store, s.UserID)

	_ = c.deps.Sessions.Destroy(ctx, w, r)
	c.deps.Hooks.AfterLogout.Fire(s.UserID)

	if isSSO {
		http.Redirect(w, r, c.deps.URLs.LogoutURL(ctx), http.StatusFound)
		return
	}
	http.Redirect(w, r, c.deps.URLs.HomeURL(), http.StatusFound)
}

// LoginURL exposes the remote login address to host-site code.
func (c *Controller) LoginURL(ctx context.Context, returnURL string) string {
	return c.deps.URLs.LoginURL(ctx, returnURL)
}

// LogoutURL exposes the remote logout address to host-site code.
func (c *Controller) LogoutURL(ctx context.Context) string {
	return c.deps.URLs.LogoutURL(ctx)
}

// IsSSOUser reports whether userID is bound to a remote identity.
func (c *Controller) IsSSOUser(ctx context.Context, userID string) bool {
	return store.IsSSOUser(ctx, c.deps.Store, userID)
}

// IsSSOUserActive reports whether the remote service still considers
// userID's SSO session valid.
func (c *Controller) IsSSOUserActive(ctx context.Context, userID string) bool {
	return c.deps.Liveness.IsActive(ctx, userID)
}
