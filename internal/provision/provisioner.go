// Package provision finds or creates the local shadow user bound to a
// remote SSO identity, and keeps its profile fields in sync on every
// login. Provisioned accounts never receive a local password.
package provision

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/avoinelab/ssobridge/internal/hooks"
	"github.com/avoinelab/ssobridge/internal/identity"
	"github.com/avoinelab/ssobridge/internal/observability/logger"
	"github.com/avoinelab/ssobridge/internal/store"
)

// Provisioner maps remote identities to local users.
type Provisioner interface {
	// ResolveOrCreate returns the local user bound to id's mapping key,
	// creating one when absent. The boolean reports whether a user was
	// created by this call. Two calls yielding the same mapping key
	// return the same user; a lost creation race is resolved by a
	// follow-up lookup instead of a duplicate.
	ResolveOrCreate(ctx context.Context, id *identity.Identity) (*store.User, bool, error)

	// Refresh pulls the current remote profile and applies it to an
	// existing local user: name fields plus the identity metadata, so a
	// rotated remote session id is picked up on the next login.
	Refresh(ctx context.Context, userID string, id *identity.Identity) error
}

// PayloadContext is handed to the payload-shaping filters.
type PayloadContext struct {
	Identity *identity.Identity
	Profile  identity.Profile
}

// CreatedContext is the payload of the post-create notification.
type CreatedContext struct {
	User     *store.User
	Identity *identity.Identity
	Profile  identity.Profile
}

// Hooks are the extension points this package consults.
type Hooks struct {
	// Login may replace the generated login name for a new user.
	Login hooks.Filter[string, PayloadContext]

	// UseOriginalEmail, when it returns true and the remote profile
	// carries an email attribute, stores the real address instead of
	// the synthetic placeholder. Default false.
	UseOriginalEmail hooks.Filter[bool, PayloadContext]

	// UserData sees the whole creation payload last, after the
	// defaults and the narrower filters above have run.
	UserData hooks.Filter[*store.NewUser, PayloadContext]

	AfterCreate hooks.Action[CreatedContext]
}

// Deps holds the provisioner's collaborators. SiteHost is the host part
// of the local site URL, used for synthetic email addresses. Now is
// overridable for tests and defaults to time.Now.
type Deps struct {
	Store    store.UserStore
	Resolver identity.Resolver
	Hooks    *Hooks
	SiteHost string
	Now      func() time.Time
}

type provisioner struct {
	deps Deps
}

func New(deps Deps) Provisioner {
	if deps.Hooks == nil {
		deps.Hooks = &Hooks{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &provisioner{deps: deps}
}

func (p *provisioner) ResolveOrCreate(ctx context.Context, id *identity.Identity) (*store.User, bool, error) {
	key, err := p.deps.Resolver.ResolveMappingKey(ctx, id)
	if err != nil {
		return nil, false, err
	}

	u, err := p.deps.Store.GetUserByMeta(ctx, store.MetaMappingID, key)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	profile, err := p.deps.Resolver.FetchProfile(ctx, id.ID)
	if err != nil {
		return nil, false, err
	}

	pctx := PayloadContext{Identity: id, Profile: profile}
	nu := p.buildUserData(id, profile, key, pctx)
	nu = p.deps.Hooks.UserData.Apply(nu, pctx)

	u, err = p.deps.Store.CreateUser(ctx, nu)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost the creation race. The winner's row carries our mapping
		// key, so one more lookup settles it.
		u, err = p.deps.Store.GetUserByMeta(ctx, store.MetaMappingID, key)
		if err != nil {
			return nil, false, err
		}
		return u, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	logger.From(ctx).Info("provisioned local user for remote identity",
		logger.Component("provision"),
		logger.UserID(u.ID),
		logger.IdP(id.IdP),
		logger.MappingKey(key),
	)

	p.deps.Hooks.AfterCreate.Fire(CreatedContext{User: u, Identity: id, Profile: profile})

	return u, true, nil
}

func (p *provisioner) Refresh(ctx context.Context, userID string, id *identity.Identity) error {
	profile, err := p.deps.Resolver.FetchProfile(ctx, id.ID)
	if err != nil {
		return err
	}

	first := profile.Attr(id.IdP, "firstname")
	last := profile.Attr(id.IdP, "lastname")
	display := displayName(first, last)

	upd := store.UserUpdate{}
	if first != "" {
		upd.FirstName = &first
	}
	if last != "" {
		upd.LastName = &last
	}
	if display != "" {
		upd.DisplayName = &display
	}
	if err := p.deps.Store.UpdateUser(ctx, userID, upd); err != nil {
		return err
	}

	for key, value := range map[string]string{
		store.MetaIdP:             id.IdP,
		store.MetaSSOID(id.IdP):   id.ID,
		store.MetaLocalID(id.IdP): id.LocalID,
	} {
		if err := p.deps.Store.SetMeta(ctx, userID, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (p *provisioner) buildUserData(id *identity.Identity, profile identity.Profile, mappingKey string, pctx PayloadContext) *store.NewUser {
	// The token is unique enough per subject to sidestep collisions
	// between providers that reuse subject identifiers.
	token := strconv.FormatInt(p.deps.Now().Unix(), 10) + id.LocalID

	login := p.deps.Hooks.Login.Apply(token, pctx)

	email := token + "@" + p.deps.SiteHost
	if orig := profile.Attr(id.IdP, "email_address"); orig != "" && p.deps.Hooks.UseOriginalEmail.Apply(false, pctx) {
		email = orig
	}

	first := profile.Attr(id.IdP, "firstname")
	last := profile.Attr(id.IdP, "lastname")

	return &store.NewUser{
		Login:       login,
		Email:       email,
		FirstName:   first,
		LastName:    last,
		DisplayName: displayName(first, last),
		Meta: map[string]string{
			store.MetaMappingID:       mappingKey,
			store.MetaIdP:             id.IdP,
			store.MetaSSOID(id.IdP):   id.ID,
			store.MetaLocalID(id.IdP): id.LocalID,
		},
	}
}

// displayName renders "Maija V." from first and last name. Either part
// missing yields whatever is present, possibly the empty string.
func displayName(first, last string) string {
	if first == "" {
		return last
	}
	if last == "" {
		return first
	}
	return first + " " + string([]rune(last)[:1]) + "."
}
