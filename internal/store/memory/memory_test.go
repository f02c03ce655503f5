package memory

import (
	"context"
	"testing"

	"github.com/avoinelab/ssobridge/internal/store"
	"github.com/stretchr/testify/require"
)

func TestCreateAndLookupByMeta(t *testing.T) {
	s := New()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, &store.NewUser{
		Login: "1650000000u-42",
		Email: "1650000000u-42@example.org",
		Meta: map[string]string{
			store.MetaMappingID: "u-42",
			store.MetaIdP:       "saml",
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)

	found, err := s.GetUserByMeta(ctx, store.MetaMappingID, "u-42")
	require.NoError(t, err)
	require.Equal(t, u.ID, found.ID)

	_, err = s.GetUserByMeta(ctx, store.MetaMappingID, "u-43")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateUser_DuplicateMappingID(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreateUser(ctx, &store.NewUser{
		Login: "a", Email: "a@x", Meta: map[string]string{store.MetaMappingID: "u-42"},
	})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, &store.NewUser{
		Login: "b", Email: "b@x", Meta: map[string]string{store.MetaMappingID: "u-42"},
	})
	require.ErrorIs(t, err, store.ErrDuplicate)
}

func TestCreateUser_DuplicateLogin(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreateUser(ctx, &store.NewUser{Login: "a", Email: "a@x"})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, &store.NewUser{Login: "a", Email: "b@x"})
	require.ErrorIs(t, err, store.ErrDuplicate)
}

func TestUpdateUser_PartialFields(t *testing.T) {
	s := New()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, &store.NewUser{Login: "a", Email: "a@x", FirstName: "Ada"})
	require.NoError(t, err)

	last := "Lovelace"
	require.NoError(t, s.UpdateUser(ctx, u.ID, store.UserUpdate{LastName: &last}))

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "Ada", got.FirstName)
	require.Equal(t, "Lovelace", got.LastName)
}

func TestMetaRoundTripAndAbsent(t *testing.T) {
	s := New()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, &store.NewUser{Login: "a", Email: "a@x"})
	require.NoError(t, err)

	v, err := s.GetMeta(ctx, u.ID, "sso_idp")
	require.NoError(t, err)
	require.Equal(t, "", v)

	require.NoError(t, s.SetMeta(ctx, u.ID, "sso_idp", "saml"))

	v, err = s.GetMeta(ctx, u.ID, "sso_idp")
	require.NoError(t, err)
	require.Equal(t, "saml", v)
}

func TestIsSSOUser(t *testing.T) {
	s := New()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, &store.NewUser{Login: "a", Email: "a@x"})
	require.NoError(t, err)
	require.False(t, store.IsSSOUser(ctx, s, u.ID))

	require.NoError(t, s.SetMeta(ctx, u.ID, store.MetaIdP, "saml"))
	require.True(t, store.IsSSOUser(ctx, s, u.ID))

	require.False(t, store.IsSSOUser(ctx, s, ""))
}
