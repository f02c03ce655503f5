// Package identity models what the remote SSO service asserts about a
// session: the validated identity record and the free-form profile
// attribute bag, both parsed and checked at the RPC boundary so missing
// fields surface as typed failures instead of runtime surprises later.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyID      = errors.New("identity: empty sso id")
	ErrMissingField = errors.New("identity: missing required field")
	ErrBadPayload   = errors.New("identity: malformed payload")
	ErrEmptyProfile = errors.New("identity: empty profile")
)

// Identity is the result of a successful remote validation call.
// Immutable; lives for the duration of one login capture.
type Identity struct {
	// ID is the opaque remote session/identity token.
	ID string `json:"id"`
	// IdP tags which upstream authentication method produced this
	// identity.
	IdP string `json:"idp"`
	// LocalID is the stable per-provider subject identifier and the
	// default mapping key.
	LocalID string `json:"local_id"`
}

// ParseIdentity decodes a GetUser result payload, requiring all three
// fields to be present and non-empty.
func ParseIdentity(raw json.RawMessage) (*Identity, error) {
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	for field, v := range map[string]string{"id": id.ID, "idp": id.IdP, "local_id": id.LocalID} {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, field)
		}
	}
	return &id, nil
}

// Profile is the attribute bag a GetUserData call returns, keyed by
// provider-qualified names such as "<idp>.firstname". A snapshot; never
// mutated after parse.
type Profile map[string]any

// ParseProfile decodes a GetUserData result payload. An empty bag is a
// failure: the remote service answers with at least one attribute for
// any identity it still recognizes.
func ParseProfile(raw json.RawMessage) (Profile, error) {
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if len(p) == 0 {
		return nil, ErrEmptyProfile
	}
	return p, nil
}

// Attr returns the string value of the provider-qualified attribute
// "<idp>.<name>", or "" when absent, empty, or not a string.
func (p Profile) Attr(idp, name string) string {
	v, ok := p[idp+"."+name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
