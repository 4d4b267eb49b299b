package auth

import (
	"context"

	"github.com/rs/zerolog"
)

// StaticAuthorizer resolves tokens against a fixed token→owner table loaded
// from configuration. It backs development and single-tenant deployments;
// production setups plug a different Authorizer in front of the same router.
type StaticAuthorizer struct {
	tokens map[string]string
	log    zerolog.Logger
}

// NewStaticAuthorizer builds an authorizer over a token→owner map.
func NewStaticAuthorizer(tokens map[string]string, log zerolog.Logger) *StaticAuthorizer {
	return &StaticAuthorizer{tokens: tokens, log: log}
}

func (a *StaticAuthorizer) Authorize(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	owner, ok := a.tokens[token]
	if !ok {
		a.log.Debug().Msg("rejected unknown bearer token")
		return nil, ErrInvalidToken
	}
	return &Identity{OwnerID: owner}, nil
}

// InsecureAuthorizer maps every request to a fixed owner without checking the
// token. Local development only.
type InsecureAuthorizer struct {
	OwnerID string
}

func (a *InsecureAuthorizer) Authorize(context.Context, string) (*Identity, error) {
	return &Identity{OwnerID: a.OwnerID}, nil
}
