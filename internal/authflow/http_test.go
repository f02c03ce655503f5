package authflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/avoinelab/ssobridge/internal/identity"
	"github.com/avoinelab/ssobridge/internal/liveness"
	"github.com/avoinelab/ssobridge/internal/session"
	"github.com/avoinelab/ssobridge/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestCaptureMiddleware(t *testing.T) {
	h := newHarness(t)
	h.validates("abc123", identity.Identity{ID: "abc123", IdP: "saml", LocalID: "u-42"})
	h.serves("abc123", identity.Profile{"saml.firstname": "Ada"})

	var passedThrough bool
	handler := h.ctrl.Capture()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		passedThrough = true
		w.WriteHeader(http.StatusTeapot)
	}))

	// SSO callback is consumed by the middleware.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, loginRequest("abc123", ""))
	require.Equal(t, http.StatusFound, rec.Code)
	require.False(t, passedThrough)

	// Ordinary traffic reaches the inner handler.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/page", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.True(t, passedThrough)
}

func TestRequireActiveSession(t *testing.T) {
	h := newHarness(t)
	h.validates("abc123", identity.Identity{ID: "abc123", IdP: "saml", LocalID: "u-42"})
	h.serves("abc123", identity.Profile{"saml.firstname": "Ada"})

	rec := httptest.NewRecorder()
	require.True(t, h.ctrl.CaptureLogin(rec, loginRequest("abc123", "")))
	cookie := sessionCookie(t, rec)

	var principal string
	protected := h.ctrl.RequireActiveSession()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := SessionFrom(r.Context())
		require.True(t, ok)
		principal = s.UserID
		w.WriteHeader(http.StatusOK)
	}))

	// Valid, active session passes.
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookie)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, principal)

	// No session redirects to the failure page.
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "http://site.example.org/login", rec.Header().Get("Location"))
}

func TestRequireActiveSessionFailsClosed(t *testing.T) {
	h := newHarness(t)
	h.validates("abc123", identity.Identity{ID: "abc123", IdP: "saml", LocalID: "u-42"})
	h.serves("abc123", identity.Profile{"saml.firstname": "Ada"})

	rec := httptest.NewRecorder()
	require.True(t, h.ctrl.CaptureLogin(rec, loginRequest("abc123", "")))
	cookie := sessionCookie(t, rec)

	// The remote service now refuses the user.
	h.lhooks.UserActive.Register(func(bool, liveness.UserActiveContext) bool { return false })

	protected := h.ctrl.RequireActiveSession()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("inactive principal must not reach the handler")
	}))

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookie)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, r)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "http://site.example.org/login", rec.Header().Get("Location"))
}

func TestPasswordLoginEndpoint(t *testing.T) {
	h := newHarness(t)

	_, err := h.store.CreateUser(context.Background(), &store.NewUser{
		Login: "federated",
		Email: "fed@example.org",
		Meta:  map[string]string{store.MetaIdP: "saml"},
	})
	require.NoError(t, err)
	_, err = h.store.CreateUser(context.Background(), &store.NewUser{
		Login: "plain",
		Email: "plain@example.org",
	})
	require.NoError(t, err)

	router := chi.NewRouter()
	h.ctrl.Mount(router)

	post := func(login string) *httptest.ResponseRecorder {
		form := url.Values{}
		if login != "" {
			form.Set("login", login)
		}
		r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)
		return rec
	}

	require.Equal(t, http.StatusForbidden, post("federated").Code)
	require.Equal(t, http.StatusOK, post("plain").Code)
	require.Equal(t, http.StatusOK, post("nobody").Code)
	require.Equal(t, http.StatusBadRequest, post("").Code)
}

type brokenLoginStore struct {
	store.UserStore
}

func (brokenLoginStore) GetUserByLogin(context.Context, string) (*store.User, error) {
	return nil, errors.New("backend unreachable")
}

func TestPasswordLoginStoreFailure(t *testing.T) {
	h := newHarness(t)

	st := brokenLoginStore{h.store}
	ctrl := New(Deps{
		URLs:     NewURLs(h.cfg, h.hooks),
		Store:    st,
		Sessions: h.sessions,
		Guard:    session.NewPasswordGuard(st, nil),
		Hooks:    h.hooks,
	})

	router := chi.NewRouter()
	ctrl.Mount(router)

	form := url.Values{"login": {"anyone"}}
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	// A broken store must refuse the login, not wave it through.
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLocalLogoutRoute(t *testing.T) {
	h := newHarness(t)
	h.validates("abc123", identity.Identity{ID: "abc123", IdP: "saml", LocalID: "u-42"})
	h.serves("abc123", identity.Profile{"saml.firstname": "Ada"})

	rec := httptest.NewRecorder()
	require.True(t, h.ctrl.CaptureLogin(rec, loginRequest("abc123", "")))
	cookie := sessionCookie(t, rec)

	router := chi.NewRouter()
	h.ctrl.Mount(router)

	r := httptest.NewRequest(http.MethodPost, "/logout", nil)
	r.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://tunnistus.avoine.fi/sso-logout/", rec.Header().Get("Location"))
}

func TestPublicHelpers(t *testing.T) {
	h := newHarness(t)
	h.validates("abc123", identity.Identity{ID: "abc123", IdP: "saml", LocalID: "u-42"})
	h.serves("abc123", identity.Profile{"saml.firstname": "Ada"})

	rec := httptest.NewRecorder()
	require.True(t, h.ctrl.CaptureLogin(rec, loginRequest("abc123", "")))

	ctx := context.Background()
	u, err := h.store.GetUserByMeta(ctx, store.MetaMappingID, "u-42")
	require.NoError(t, err)

	require.True(t, h.ctrl.IsSSOUser(ctx, u.ID))
	require.True(t, h.ctrl.IsSSOUserActive(ctx, u.ID))
	require.False(t, h.ctrl.IsSSOUser(ctx, "nope"))

	require.Contains(t, h.ctrl.LoginURL(ctx, "http://site.example.org/x"), "sso-login")
	require.Equal(t, "https://tunnistus.avoine.fi/sso-logout/", h.ctrl.LogoutURL(ctx))
}
