package identity

import (
	"context"
	"strings"

	"github.com/avoinelab/ssobridge/internal/hooks"
	"github.com/avoinelab/ssobridge/internal/observability/logger"
	"github.com/avoinelab/ssobridge/internal/rpc"
)

// Resolver validates incoming SSO identifiers and fetches remote
// profile data.
type Resolver interface {
	// Validate checks rawID against the remote service and returns the
	// identity it maps to. Empty or whitespace rawID fails immediately
	// without an RPC call.
	Validate(ctx context.Context, rawID string) (*Identity, error)

	// FetchProfile returns the full attribute bag for a remote id. No
	// caching here; callers needing repeated answers cache themselves.
	FetchProfile(ctx context.Context, remoteID string) (Profile, error)

	// ResolveMappingKey computes the stable join key for an identity:
	// the profile is fetched, the default key is the identity's
	// LocalID, and the MappingKey filter may override it. Registered
	// filters must be pure functions of (identity, profile) or user
	// deduplication breaks.
	ResolveMappingKey(ctx context.Context, id *Identity) (string, error)
}

// MappingKeyContext is handed to MappingKey filter callbacks.
type MappingKeyContext struct {
	Identity *Identity
	Profile  Profile
}

// Hooks are the extension points this package consults.
type Hooks struct {
	MappingKey hooks.Filter[string, MappingKeyContext]
}

// Deps holds the resolver's collaborators.
type Deps struct {
	RPC   rpc.Client
	Hooks *Hooks
}

type resolver struct {
	deps Deps
}

// New creates a Resolver. A nil Hooks gets an empty registry.
func New(deps Deps) Resolver {
	if deps.Hooks == nil {
		deps.Hooks = &Hooks{}
	}
	return &resolver{deps: deps}
}

func (r *resolver) Validate(ctx context.Context, rawID string) (*Identity, error) {
	if strings.TrimSpace(rawID) == "" {
		return nil, ErrEmptyID
	}

	raw, err := r.deps.RPC.Call(ctx, rawID, rpc.MethodGetUser)
	if err != nil {
		return nil, err
	}

	id, err := ParseIdentity(raw)
	if err != nil {
		logger.From(ctx).Debug("sso id validation returned unusable record",
			logger.Component("identity"), logger.Err(err))
		return nil, err
	}
	return id, nil
}

func (r *resolver) FetchProfile(ctx context.Context, remoteID string) (Profile, error) {
	raw, err := r.deps.RPC.Call(ctx, remoteID, rpc.MethodGetUserData)
	if err != nil {
		return nil, err
	}
	return ParseProfile(raw)
}

func (r *resolver) ResolveMappingKey(ctx context.Context, id *Identity) (string, error) {
	profile, err := r.FetchProfile(ctx, id.ID)
	if err != nil {
		return "", err
	}

	key := r.deps.Hooks.MappingKey.Apply(id.LocalID, MappingKeyContext{
		Identity: id,
		Profile:  profile,
	})
	if strings.TrimSpace(key) == "" {
		return "", ErrMissingField
	}
	return key, nil
}
