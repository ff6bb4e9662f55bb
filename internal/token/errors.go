package token

import "errors"

// Verification failures, distinguished internally for diagnostics. The
// transport layer collapses all of them into a single unauthorized response
// so callers learn nothing about why a token was rejected.
var (
	ErrMalformed     = errors.New("token: malformed")
	ErrUnknownKey    = errors.New("token: unknown signing key")
	ErrBadSignature  = errors.New("token: bad signature")
	ErrExpired       = errors.New("token: expired")
	ErrInvalidClaims = errors.New("token: invalid claims")
)
