package token

import (
	"crypto/rsa"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgrid.org/internal/obs"
)

// KeySource resolves a key identifier to public material. The keyring
// satisfies it locally; a remote verifier could satisfy it from a fetched
// JWKS document.
type KeySource interface {
	Lookup(kid string) (*rsa.PublicKey, bool)
}

// Verifier validates tokens without any repository access. That property is
// what lets remote services verify tokens offline; nothing here may reach
// past the key source. Safe for concurrent use.
type Verifier struct {
	keys   KeySource
	issuer string
	now    func() time.Time
}

// VerifierOption configures the verifier.
type VerifierOption func(*Verifier)

// WithExpectedIssuer sets the iss claim the verifier accepts.
func WithExpectedIssuer(name string) VerifierOption {
	return func(v *Verifier) {
		if name != "" {
			v.issuer = name
		}
	}
}

// WithVerifierClock overrides the time source for tests.
func WithVerifierClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

func NewVerifier(keys KeySource, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		keys:   keys,
		issuer: "authgrid",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks structure, signature, expiry and claim shape, in that
// order, and returns the recovered claims. Any ambiguity resolves to
// denial; there is no path that downgrades a failed check to success.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	claims, err := v.verify(raw)
	if err != nil {
		obs.TokenVerified(outcomeLabel(err))
		return nil, err
	}
	obs.TokenVerified("ok")
	return claims, nil
}

func (v *Verifier) verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
	)

	parsed, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKey
		}
		pub, ok := v.keys.Lookup(kid)
		if !ok {
			return nil, ErrUnknownKey
		}
		return pub, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidClaims
	}
	if err := v.validateShape(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *Verifier) validateShape(claims *Claims) error {
	if claims.Issuer != v.issuer {
		return ErrInvalidClaims
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return ErrInvalidClaims
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return ErrInvalidClaims
	}
	if !claims.ExpiresAt.Time.After(claims.IssuedAt.Time) {
		return ErrInvalidClaims
	}
	if _, err := claims.AccountTier(); err != nil {
		return ErrInvalidClaims
	}
	return nil
}

// classify maps jwt library errors onto the package taxonomy. Unknown-key
// keyfunc failures surface wrapped inside ErrTokenUnverifiable, so that
// check runs first.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKey):
		return ErrUnknownKey
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrInvalidClaims
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrUnknownKey):
		return "unknown_key"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "invalid_claims"
	}
}
