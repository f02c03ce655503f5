package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avoinelab/ssobridge/internal/identity"
	"github.com/avoinelab/ssobridge/internal/store"
	storemem "github.com/avoinelab/ssobridge/internal/store/memory"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	profiles   map[string]identity.Profile
	fetchErr   error
	mappingKey func(id *identity.Identity) (string, error)
}

func (f *fakeResolver) Validate(context.Context, string) (*identity.Identity, error) {
	panic("not used")
}

func (f *fakeResolver) FetchProfile(_ context.Context, remoteID string) (identity.Profile, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	p, ok := f.profiles[remoteID]
	if !ok {
		return nil, identity.ErrEmptyProfile
	}
	return p, nil
}

func (f *fakeResolver) ResolveMappingKey(_ context.Context, id *identity.Identity) (string, error) {
	if f.mappingKey != nil {
		return f.mappingKey(id)
	}
	return id.LocalID, nil
}

func testIdentity() *identity.Identity {
	return &identity.Identity{ID: "sess-abc", IdP: "avoine", LocalID: "4107"}
}

func testProfile() identity.Profile {
	return identity.Profile{
		"avoine.firstname":     "Maija",
		"avoine.lastname":      "Virtanen",
		"avoine.email_address": "maija@example.fi",
	}
}

func newProvisioner(res identity.Resolver, st store.UserStore) (Provisioner, *Hooks) {
	h := &Hooks{}
	p := New(Deps{
		Store:    st,
		Resolver: res,
		Hooks:    h,
		SiteHost: "example.org",
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
	})
	return p, h
}

func TestResolveOrCreateCreates(t *testing.T) {
	res := &fakeResolver{profiles: map[string]identity.Profile{"sess-abc": testProfile()}}
	st := storemem.New()
	p, h := newProvisioner(res, st)

	var created []CreatedContext
	h.AfterCreate.Register(func(c CreatedContext) { created = append(created, c) })

	u, isNew, err := p.ResolveOrCreate(context.Background(), testIdentity())
	require.NoError(t, err)
	require.True(t, isNew)

	require.Equal(t, "17000000004107", u.Login)
	require.Equal(t, "17000000004107@example.org", u.Email)
	require.Equal(t, "Maija", u.FirstName)
	require.Equal(t, "Virtanen", u.LastName)
	require.Equal(t, "Maija V.", u.DisplayName)

	mid, err := st.GetMeta(context.Background(), u.ID, store.MetaMappingID)
	require.NoError(t, err)
	require.Equal(t, "4107", mid)
	idp, err := st.GetMeta(context.Background(), u.ID, store.MetaIdP)
	require.NoError(t, err)
	require.Equal(t, "avoine", idp)
	ssoid, err := st.GetMeta(context.Background(), u.ID, store.MetaSSOID("avoine"))
	require.NoError(t, err)
	require.Equal(t, "sess-abc", ssoid)

	require.Len(t, created, 1)
	require.Equal(t, u.ID, created[0].User.ID)
}

func TestResolveOrCreateFindsExisting(t *testing.T) {
	res := &fakeResolver{profiles: map[string]identity.Profile{"sess-abc": testProfile()}}
	st := storemem.New()
	p, _ := newProvisioner(res, st)

	first, isNew, err := p.ResolveOrCreate(context.Background(), testIdentity())
	require.NoError(t, err)
	require.True(t, isNew)

	// Same subject arriving with a fresh remote session id resolves to
	// the same local user.
	id2 := testIdentity()
	id2.ID = "sess-def"
	res.profiles["sess-def"] = testProfile()

	second, isNew, err := p.ResolveOrCreate(context.Background(), id2)
	require.NoError(t, err)
	require.False(t, isNew)
	require.Equal(t, first.ID, second.ID)
}

func TestResolveOrCreateLostRace(t *testing.T) {
	res := &fakeResolver{profiles: map[string]identity.Profile{"sess-abc": testProfile()}}
	st := storemem.New()

	// Winner commits between our lookup miss and our create.
	racing := &racingStore{UserStore: st, res: res}
	p, _ := newProvisioner(res, racing)

	u, isNew, err := p.ResolveOrCreate(context.Background(), testIdentity())
	require.NoError(t, err)
	require.False(t, isNew, "loser must adopt the winner's user")
	require.Equal(t, racing.winner.ID, u.ID)
}

// racingStore makes the first CreateUser lose to a concurrent winner.
type racingStore struct {
	store.UserStore
	res    *fakeResolver
	winner *store.User
	raced  bool
}

func (r *racingStore) CreateUser(ctx context.Context, nu *store.NewUser) (*store.User, error) {
	if !r.raced {
		r.raced = true
		w, err := r.UserStore.CreateUser(ctx, &store.NewUser{
			Login: "winner",
			Email: "winner@example.org",
			Meta:  map[string]string{store.MetaMappingID: nu.Meta[store.MetaMappingID]},
		})
		if err != nil {
			return nil, err
		}
		r.winner = w
		return nil, store.ErrDuplicate
	}
	return r.UserStore.CreateUser(ctx, nu)
}

func TestUseOriginalEmail(t *testing.T) {
	// The remote profile names the attribute "<idp>.email_address".
	res := &fakeResolver{profiles: map[string]identity.Profile{"sess-abc": {
		"avoine.email_address": "maija@example.fi",
	}}}
	p, h := newProvisioner(res, storemem.New())

	h.UseOriginalEmail.Register(func(bool, PayloadContext) bool { return true })

	u, _, err := p.ResolveOrCreate(context.Background(), testIdentity())
	require.NoError(t, err)
	require.Equal(t, "maija@example.fi", u.Email)
}

func TestUseOriginalEmailMissingAttribute(t *testing.T) {
	res := &fakeResolver{profiles: map[string]identity.Profile{"sess-abc": {
		"avoine.firstname": "Maija",
	}}}
	p, h := newProvisioner(res, storemem.New())

	h.UseOriginalEmail.Register(func(bool, PayloadContext) bool { return true })

	u, _, err := p.ResolveOrCreate(context.Background(), testIdentity())
	require.NoError(t, err)
	require.Equal(t, "17000000004107@example.org", u.Email, "no remote address falls back to the placeholder")
}

func TestLoginAndUserDataFilters(t *testing.T) {
	res := &fakeResolver{profiles: map[string]identity.Profile{"sess-abc": testProfile()}}
	p, h := newProvisioner(res, storemem.New())

	h.Login.Register(func(_ string, pc PayloadContext) string {
		return "member-" + pc.Identity.LocalID
	})
	h.UserData.Register(func(nu *store.NewUser, _ PayloadContext) *store.NewUser {
		nu.DisplayName = "Anonymous"
		return nu
	})

	u, _, err := p.ResolveOrCreate(context.Background(), testIdentity())
	require.NoError(t, err)
	require.Equal(t, "member-4107", u.Login)
	require.Equal(t, "Anonymous", u.DisplayName)
}

func TestResolveOrCreatePropagatesFailures(t *testing.T) {
	boom := errors.New("boom")

	res := &fakeResolver{mappingKey: func(*identity.Identity) (string, error) { return "", boom }}
	p, _ := newProvisioner(res, storemem.New())
	_, _, err := p.ResolveOrCreate(context.Background(), testIdentity())
	require.ErrorIs(t, err, boom)

	res = &fakeResolver{fetchErr: boom}
	res.mappingKey = func(id *identity.Identity) (string, error) { return id.LocalID, nil }
	p, _ = newProvisioner(res, storemem.New())
	_, _, err = p.ResolveOrCreate(context.Background(), testIdentity())
	require.ErrorIs(t, err, boom)
}

func TestRefresh(t *testing.T) {
	res := &fakeResolver{profiles: map[string]identity.Profile{"sess-abc": testProfile()}}
	st := storemem.New()
	p, _ := newProvisioner(res, st)

	u, _, err := p.ResolveOrCreate(context.Background(), testIdentity())
	require.NoError(t, err)

	// Remote profile and session id change; a later login refreshes.
	res.profiles["sess-xyz"] = identity.Profile{
		"avoine.firstname": "Maija-Liisa",
		"avoine.lastname":  "Korhonen",
	}
	id2 := testIdentity()
	id2.ID = "sess-xyz"

	require.NoError(t, p.Refresh(context.Background(), u.ID, id2))

	got, err := st.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, "Maija-Liisa", got.FirstName)
	require.Equal(t, "Korhonen", got.LastName)
	require.Equal(t, "Maija-Liisa K.", got.DisplayName)

	ssoid, err := st.GetMeta(context.Background(), u.ID, store.MetaSSOID("avoine"))
	require.NoError(t, err)
	require.Equal(t, "sess-xyz", ssoid)
}

func TestDisplayName(t *testing.T) {
	require.Equal(t, "Maija V.", displayName("Maija", "Virtanen"))
	require.Equal(t, "Maija", displayName("Maija", ""))
	require.Equal(t, "Virtanen", displayName("", "Virtanen"))
	require.Equal(t, "", displayName("", ""))
	require.Equal(t, "Åsa Ö.", displayName("Åsa", "Öberg"))
}
