package auth

import "errors"

// Sentinel errors for token decoding.
var (
	ErrMissingToken   = errors.New("auth: missing token")
	ErrTokenMalformed = errors.New("auth: token malformed")
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrNoSecret       = errors.New("auth: no signing secret configured")
)
