package authflow

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/avoinelab/ssobridge/internal/config"
)

// URLs computes every remote-facing address the flow needs. Each value
// passes through its filter so a site can repoint a single piece (say,
// a staging SSO domain) without reconfiguring the rest.
type URLs struct {
	cfg   *config.Config
	hooks *Hooks
}

func NewURLs(cfg *config.Config, h *Hooks) *URLs {
	if h == nil {
		h = &Hooks{}
	}
	return &URLs{cfg: cfg, hooks: h}
}

func (u *URLs) ServiceID(ctx context.Context) string {
	return u.hooks.ServiceID.Apply(u.cfg.SSO.ServiceID, ctx)
}

func (u *URLs) Domain(ctx context.Context) string {
	return u.hooks.Domain.Apply(u.cfg.SSO.Domain, ctx)
}

func (u *URLs) Key(ctx context.Context) string {
	return u.hooks.Key.Apply(u.cfg.SSO.Key, ctx)
}

// APIURL is the JSON-RPC endpoint on the remote service.
func (u *URLs) APIURL(ctx context.Context) string {
	return u.hooks.APIURL.Apply("https://"+u.Domain(ctx)+"/mmserver", ctx)
}

// LoginURL points the browser at the remote login page, carrying the
// service id and the URL to come back to.
func (u *URLs) LoginURL(ctx context.Context, returnURL string) string {
	if returnURL == "" {
		returnURL = u.cfg.Server.SiteURL
	}
	v := "https://" + u.Domain(ctx) + "/sso-login/?service=" +
		url.QueryEscape(u.ServiceID(ctx)) + "&return=" + url.QueryEscape(returnURL)
	return u.hooks.LoginURL.Apply(v, returnURL)
}

// LogoutURL is the remote logout page. Sending a local SSO user there
// ends the remote session, whose logout page in turn calls back our
// sso-logout path.
func (u *URLs) LogoutURL(ctx context.Context) string {
	return u.hooks.LogoutURL.Apply("https://"+u.Domain(ctx)+"/sso-logout/", ctx)
}

// LoginFailedURL is where a failed login capture lands the browser.
func (u *URLs) LoginFailedURL(ctx context.Context) string {
	return u.hooks.LoginFailedURL.Apply(u.cfg.Server.SiteURL+"/login", ctx)
}

// HomeURL is the local site front page.
func (u *URLs) HomeURL() string {
	return u.cfg.Server.SiteURL
}

// allowedRedirectHost accepts the local site host and the SSO service
// domain. Everything else falls back.
func (u *URLs) allowedRedirectHost(ctx context.Context, host string) bool {
	if host == "" {
		return false
	}
	if site, err := url.Parse(u.cfg.Server.SiteURL); err == nil && hostOnly(site.Host) == hostOnly(host) {
		return true
	}
	return hostOnly(host) == u.Domain(ctx)
}

// SafeRedirect sends the browser to target when its host is allowed,
// and to fallback otherwise. Relative targets are always local and
// therefore allowed.
func (u *URLs) SafeRedirect(w http.ResponseWriter, r *http.Request, target, fallback string) {
	dest := fallback
	if target != "" {
		if t, err := url.Parse(target); err == nil {
			if t.Host == "" || u.allowedRedirectHost(r.Context(), t.Host) {
				dest = target
			}
		}
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

func hostOnly(hostport string) string {
	if i := strings.LastIndex(hostport, ":"); i >= 0 && !strings.Contains(hostport[i+1:], "]") {
		return hostport[:i]
	}
	return hostport
}
