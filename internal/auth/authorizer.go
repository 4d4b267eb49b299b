// Package auth resolves bearer tokens to owner identities. Every data-plane
// request is scoped to exactly one owner; handlers never see raw tokens.
package auth

import (
	"context"
)

// Identity describes an authenticated caller.
type Identity struct {
	OwnerID string `json:"owner_id"`
}

// Authorizer validates a bearer token and resolves the owner it acts for.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (*Identity, error)
}
