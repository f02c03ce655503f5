// Package session manages the local browser session: a signed cookie
// carrying the session claims, plus a cache-backed revocation list so a
// remote-initiated logout can kill an otherwise valid cookie before it
// expires.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/avoinelab/ssobridge/internal/cache"
	"github.com/avoinelab/ssobridge/internal/observability/logger"
	"github.com/avoinelab/ssobridge/internal/security/token"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrNoSession = errors.New("session: no session")
	ErrInvalid   = errors.New("session: invalid token")
	ErrRevoked   = errors.New("session: revoked")
)

const revokedKeyPrefix = "revoked:"

// Session is the decoded state of a valid cookie.
type Session struct {
	UserID     string
	JTI        string
	Persistent bool
	ExpiresAt  time.Time
}

// Manager issues, reads, and revokes local sessions.
type Manager interface {
	// Establish issues a session cookie for userID. Persistent marks
	// remember-me sessions; non-persistent cookies are dropped when the
	// browser closes but carry the same signed expiry.
	Establish(ctx context.Context, w http.ResponseWriter, userID string, persistent bool) (*Session, error)

	// Current returns the session presented by the request, or
	// ErrNoSession, ErrInvalid, ErrRevoked.
	Current(ctx context.Context, r *http.Request) (*Session, error)

	// Destroy revokes the presented session and writes a deletion
	// cookie. Destroying a request without a session is a no-op.
	Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// Deps holds the manager's collaborators. TTL bounds both the signed
// expiry and the revocation marker lifetime.
type Deps struct {
	Secret     []byte
	CookieName string
	Secure     bool
	TTL        time.Duration
	Cache      cache.Cache
	Now        func() time.Time
}

type claims struct {
	Persistent bool `json:"persistent,omitempty"`
	jwt.RegisteredClaims
}

type manager struct {
	deps Deps
}

func New(deps Deps) Manager {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &manager{deps: deps}
}

func (m *manager) Establish(ctx context.Context, w http.ResponseWriter, userID string, persistent bool) (*Session, error) {
	now := m.deps.Now()
	exp := now.Add(m.deps.TTL)
	jti := uuid.NewString()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Persistent: persistent,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString(m.deps.Secret)
	if err != nil {
		return nil, err
	}

	c := &http.Cookie{
		Name:     m.deps.CookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.deps.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if persistent {
		c.Expires = exp
	}
	http.SetCookie(w, c)
	w.Header().Set("Cache-Control", "no-store")

	logger.From(ctx).Debug("session established",
		logger.Component("session"), logger.UserID(userID))

	return &Session{UserID: userID, JTI: jti, Persistent: persistent, ExpiresAt: exp}, nil
}

func (m *manager) Current(_ context.Context, r *http.Request) (*Session, error) {
	c, err := r.Cookie(m.deps.CookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}

	var cl claims
	tok, err := jwt.ParseWithClaims(c.Value, &cl, func(*jwt.Token) (any, error) {
		return m.deps.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.deps.Now),
	)
	if err != nil || !tok.Valid || cl.Subject == "" || cl.ID == "" {
		return nil, ErrInvalid
	}

	if _, revoked := m.deps.Cache.Get(revokedKey(cl.ID)); revoked {
		return nil, ErrRevoked
	}

	s := &Session{UserID: cl.Subject, JTI: cl.ID, Persistent: cl.Persistent}
	if cl.ExpiresAt != nil {
		s.ExpiresAt = cl.ExpiresAt.Time
	}
	return s, nil
}

func (m *manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	s, err := m.Current(ctx, r)
	if err == nil {
		// The marker only needs to outlive the cookie's signed expiry.
		ttl := s.ExpiresAt.Sub(m.deps.Now())
		if ttl > 0 {
			m.deps.Cache.Set(revokedKey(s.JTI), []byte("1"), ttl)
		}
		logger.From(ctx).Debug("session destroyed",
			logger.Component("session"), logger.UserID(s.UserID))
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.deps.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.deps.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set("Cache-Control", "no-store")
	return nil
}

func revokedKey(jti string) string {
	return revokedKeyPrefix + token.SHA256Base64URL(jti)
}
