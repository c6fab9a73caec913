// Package identity resolves bearer tokens against the external identity
// service and gates requests on a resolved user.
package identity

import (
	"context"
	"errors"
)

// User is the identity attached to an authenticated request. The identity
// service owns the user record; this core only references its id.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ErrTokenRejected indicates the identity service did not recognise the token.
var ErrTokenRejected = errors.New("identity: token rejected")

// Provider resolves a bearer token into a user.
type Provider interface {
	ResolveToken(ctx context.Context, token string) (*User, error)
}
