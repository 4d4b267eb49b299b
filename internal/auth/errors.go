package auth

import "errors"

var (
	// ErrMissingToken is returned when no Authorization header is present.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned when the token is malformed or unknown.
	ErrInvalidToken = errors.New("invalid bearer token")
)
