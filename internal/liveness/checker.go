// Package liveness answers "does the remote service still consider this
// session valid". The remote answer is authoritative: the default is
// active when the service raises no objection, and inactive on any
// communication failure (fail closed). Per-user answers are cached with
// a TTL so steady traffic does not hammer the remote service.
package liveness

import (
	"context"
	"time"

	"github.com/avoinelab/ssobridge/internal/cache"
	"github.com/avoinelab/ssobridge/internal/hooks"
	"github.com/avoinelab/ssobridge/internal/httpx"
	"github.com/avoinelab/ssobridge/internal/identity"
	"github.com/avoinelab/ssobridge/internal/observability/logger"
	"github.com/avoinelab/ssobridge/internal/store"
	"golang.org/x/sync/singleflight"
)

const (
	cacheKeyPrefix  = "user_activity:"
	markerActive    = "active"
	markerNotActive = "not-active"
)

// Checker decides liveness for a bound local user or a transient
// pre-login identity.
type Checker interface {
	// IsActive reports whether the remote service still considers the
	// SSO session bound to localUserID valid. Cached answers, both
	// states, are trusted within their TTL.
	IsActive(ctx context.Context, localUserID string) bool

	// IsRemoteUserActive is the pre-login variant used during login
	// capture, before a local user exists. Never cached.
	IsRemoteUserActive(ctx context.Context, id *identity.Identity) bool
}

// UserActiveContext is handed to the per-user activity filter.
type UserActiveContext struct {
	UserID  string
	SSOID   string
	Profile identity.Profile
}

// UserActiveResult is the payload of the post-check notification.
type UserActiveResult struct {
	UserID string
	Active bool
}

// RemoteActiveContext is handed to the login-time activity filter and
// its post-check notification.
type RemoteActiveContext struct {
	Identity *identity.Identity
	Profile  identity.Profile
}

// Hooks are the extension points this package consults. The two
// activity filters are distinct on purpose: sites often gate login more
// strictly than continued use.
type Hooks struct {
	UserActive       hooks.Filter[bool, UserActiveContext]
	RemoteUserActive hooks.Filter[bool, RemoteActiveContext]

	// CacheTTL may override the liveness cache lifetime per user.
	CacheTTL hooks.Filter[time.Duration, string]

	AfterUserActiveCheck   hooks.Action[UserActiveResult]
	AfterRemoteActiveCheck hooks.Action[RemoteActiveContext]
}

// Deps holds the checker's collaborators. TTL defaults the cache entry
// lifetime and should match the local session cookie lifetime.
type Deps struct {
	Resolver identity.Resolver
	Store    store.UserStore
	Cache    cache.Cache
	Hooks    *Hooks
	TTL      time.Duration
}

type checker struct {
	deps Deps
	sf   singleflight.Group
}

func New(deps Deps) Checker {
	if deps.Hooks == nil {
		deps.Hooks = &Hooks{}
	}
	return &checker{deps: deps}
}

func (c *checker) IsActive(ctx context.Context, localUserID string) bool {
	if localUserID == "" {
		return false
	}

	if b, ok := c.deps.Cache.Get(cacheKeyPrefix + localUserID); ok {
		switch string(b) {
		case markerActive:
			httpx.RecordLivenessCache("hit_active")
			return true
		case markerNotActive:
			httpx.RecordLivenessCache("hit_inactive")
			return false
		}
	}
	httpx.RecordLivenessCache("miss")

	// Collapse concurrent fresh checks for the same user into one
	// remote round trip.
	v, _, _ := c.sf.Do(localUserID, func() (any, error) {
		return c.freshCheck(ctx, localUserID), nil
	})
	active, _ := v.(bool)
	return active
}

func (c *checker) freshCheck(ctx context.Context, localUserID string) bool {
	idp, err := c.deps.Store.GetMeta(ctx, localUserID, store.MetaIdP)
	if err != nil || idp == "" {
		return false
	}

	ssoid, err := c.deps.Store.GetMeta(ctx, localUserID, store.MetaSSOID(idp))
	if err != nil || ssoid == "" {
		return false
	}

	profile, err := c.deps.Resolver.FetchProfile(ctx, ssoid)
	if err != nil {
		// Remote unreachable or identity gone: inactive, and not
		// cached, so the next request re-checks.
		logger.From(ctx).Debug("activity check failed closed",
			logger.Component("liveness"), logger.UserID(localUserID), logger.Err(err))
		return false
	}

	active := c.deps.Hooks.UserActive.Apply(true, UserActiveContext{
		UserID:  localUserID,
		SSOID:   ssoid,
		Profile: profile,
	})

	c.deps.Hooks.AfterUserActiveCheck.Fire(UserActiveResult{UserID: localUserID, Active: active})

	marker := markerNotActive
	if active {
		marker = markerActive
	}
	ttl := c.deps.Hooks.CacheTTL.Apply(c.deps.TTL, localUserID)
	c.deps.Cache.Set(cacheKeyPrefix+localUserID, []byte(marker), ttl)

	return active
}

func (c *checker) IsRemoteUserActive(ctx context.Context, id *identity.Identity) bool {
	if id == nil {
		return false
	}

	profile, err := c.deps.Resolver.FetchProfile(ctx, id.ID)
	if err != nil {
		logger.From(ctx).Debug("remote activity check failed closed",
			logger.Component("liveness"), logger.IdP(id.IdP), logger.Err(err))
		return false
	}

	rctx := RemoteActiveContext{Identity: id, Profile: profile}
	active := c.deps.Hooks.RemoteUserActive.Apply(true, rctx)
	c.deps.Hooks.AfterRemoteActiveCheck.Fire(rctx)

	return active
}
