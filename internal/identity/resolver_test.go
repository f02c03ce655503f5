package identity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/avoinelab/ssobridge/internal/rpc"
	"github.com/stretchr/testify/require"
)

// fakeRPC returns canned payloads per method and counts calls.
type fakeRPC struct {
	results map[string]json.RawMessage
	errs    map[string]error
	calls   []string
}

func (f *fakeRPC) Call(_ context.Context, remoteID, method string) (json.RawMessage, error) {
	f.calls = append(f.calls, method)
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	return f.results[method], nil
}

func TestValidate_EmptyID_NoRPCCall(t *testing.T) {
	f := &fakeRPC{}
	r := New(Deps{RPC: f})

	for _, raw := range []string{"", "   ", "\t\n"} {
		_, err := r.Validate(context.Background(), raw)
		require.ErrorIs(t, err, ErrEmptyID)
	}
	require.Empty(t, f.calls)
}

func TestValidate_OK(t *testing.T) {
	f := &fakeRPC{results: map[string]json.RawMessage{
		rpc.MethodGetUser: json.RawMessage(`{"id":"abc123","idp":"saml","local_id":"u-42"}`),
	}}
	r := New(Deps{RPC: f})

	id, err := r.Validate(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, &Identity{ID: "abc123", IdP: "saml", LocalID: "u-42"}, id)
	require.Equal(t, []string{rpc.MethodGetUser}, f.calls)
}

func TestValidate_RPCFailurePropagates(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeRPC{errs: map[string]error{rpc.MethodGetUser: boom}}
	r := New(Deps{RPC: f})

	_, err := r.Validate(context.Background(), "abc123")
	require.ErrorIs(t, err, boom)
}

func TestValidate_MissingFieldsFail(t *testing.T) {
	cases := []string{
		`{"idp":"saml","local_id":"u-42"}`,
		`{"id":"abc","local_id":"u-42"}`,
		`{"id":"abc","idp":"saml"}`,
		`{"id":"abc","idp":"saml","local_id":"  "}`,
	}
	for _, payload := range cases {
		f := &fakeRPC{results: map[string]json.RawMessage{
			rpc.MethodGetUser: json.RawMessage(payload),
		}}
		r := New(Deps{RPC: f})

		_, err := r.Validate(context.Background(), "abc123")
		require.ErrorIs(t, err, ErrMissingField, "payload %s", payload)
	}
}

func TestResolveMappingKey_DefaultsToLocalID(t *testing.T) {
	f := &fakeRPC{results: map[string]json.RawMessage{
		rpc.MethodGetUserData: json.RawMessage(`{"saml.firstname":"Ada"}`),
	}}
	r := New(Deps{RPC: f})

	id := &Identity{ID: "abc123", IdP: "saml", LocalID: "u-42"}

	key, err := r.ResolveMappingKey(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "u-42", key)

	// stable across calls
	again, err := r.ResolveMappingKey(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, key, again)
}

func TestResolveMappingKey_HookOverride(t *testing.T) {
	f := &fakeRPC{results: map[string]json.RawMessage{
		rpc.MethodGetUserData: json.RawMessage(`{"saml.member_no":"991"}`),
	}}
	h := &Hooks{}
	h.MappingKey.Register(func(v string, c MappingKeyContext) string {
		return c.Identity.IdP + ":" + v
	})
	r := New(Deps{RPC: f, Hooks: h})

	key, err := r.ResolveMappingKey(context.Background(), &Identity{ID: "abc", IdP: "saml", LocalID: "u-42"})
	require.NoError(t, err)
	require.Equal(t, "saml:u-42", key)
}

func TestResolveMappingKey_ProfileFailureFails(t *testing.T) {
	f := &fakeRPC{errs: map[string]error{rpc.MethodGetUserData: errors.New("down")}}
	r := New(Deps{RPC: f})

	_, err := r.ResolveMappingKey(context.Background(), &Identity{ID: "abc", IdP: "saml", LocalID: "u-42"})
	require.Error(t, err)
}

func TestProfileAttr(t *testing.T) {
	p := Profile{"saml.firstname": "Ada", "saml.age": 42.0, "saml.lastname": ""}

	require.Equal(t, "Ada", p.Attr("saml", "firstname"))
	require.Equal(t, "", p.Attr("saml", "lastname"))
	require.Equal(t, "", p.Attr("saml", "age"))
	require.Equal(t, "", p.Attr("saml", "missing"))
}

func TestParseProfile_EmptyFails(t *testing.T) {
	_, err := ParseProfile(json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrEmptyProfile)
}
