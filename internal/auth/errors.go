package auth

import "errors"

var (
	// ErrTokenMissing is returned when a request carries no token.
	ErrTokenMissing = errors.New("auth: token missing")

	// ErrTokenInvalid is returned for a token that fails signature,
	// expiry, issuer or subject checks.
	ErrTokenInvalid = errors.New("auth: invalid token")
)
