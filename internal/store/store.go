// Package store defines the local user store the bridge provisions
// shadow users into, plus the metadata layout that binds a local user to
// its remote SSO identity.
package store

import (
	"context"
	"errors"
)

// Metadata keys attached to SSO-provisioned users. A user is an SSO user
// if and only if MetaIdP is present and non-empty.
const (
	MetaMappingID = "sso_mapping_id"
	MetaIdP       = "sso_idp"
)

// MetaSSOID is the per-provider key holding the last remote session id.
func MetaSSOID(idp string) string { return "sso_" + idp + "_ssoid" }

// MetaLocalID is the per-provider key holding the remote subject id.
func MetaLocalID(idp string) string { return "sso_" + idp + "_local_id" }

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
)

// User is the local user record. SSO users carry no local credential;
// there is deliberately no password field anywhere in this port.
type User struct {
	ID          string
	Login       string
	Email       string
	FirstName   string
	LastName    string
	DisplayName string
}

// NewUser is the creation payload. Meta is written atomically with the
// user row, so a unique index on the mapping id can reject concurrent
// provisioning of the same remote identity.
type NewUser struct {
	Login       string
	Email       string
	FirstName   string
	LastName    string
	DisplayName string
	Meta        map[string]string
}

// UserUpdate applies only the non-nil fields.
type UserUpdate struct {
	Email       *string
	FirstName   *string
	LastName    *string
	DisplayName *string
}

// UserStore is the port the provisioner and session layer talk to.
// Implementations must be safe for concurrent use.
type UserStore interface {
	// CreateUser inserts the user and its metadata in one atomic step.
	// Returns ErrDuplicate when login, email, or a uniquely indexed
	// metadata value already exists.
	CreateUser(ctx context.Context, nu *NewUser) (*User, error)

	GetUser(ctx context.Context, id string) (*User, error)

	GetUserByLogin(ctx context.Context, login string) (*User, error)

	// GetUserByMeta finds the user carrying key=value metadata.
	// Returns ErrNotFound when no user matches.
	GetUserByMeta(ctx context.Context, key, value string) (*User, error)

	UpdateUser(ctx context.Context, id string, upd UserUpdate) error

	// SetMeta writes or overwrites one metadata value.
	SetMeta(ctx context.Context, userID, key, value string) error

	// GetMeta reads one metadata value. Absent keys return "" with a
	// nil error; errors are reserved for backend failures.
	GetMeta(ctx context.Context, userID, key string) (string, error)
}

// IsSSOUser reports whether the stored user is bound to a remote
// identity, per the MetaIdP invariant.
func IsSSOUser(ctx context.Context, s UserStore, userID string) bool {
	if userID == "" {
		return false
	}
	idp, err := s.GetMeta(ctx, userID, MetaIdP)
	return err == nil && idp != ""
}
