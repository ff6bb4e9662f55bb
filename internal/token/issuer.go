package token

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"authgrid.org/internal/account"
	"authgrid.org/internal/keyring"
	"authgrid.org/internal/obs"
)

const defaultLifetime = 15 * time.Minute

// SignedToken is an issued token together with the metadata callers need
// without re-parsing it.
type SignedToken struct {
	Raw       string
	Kid       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer mints signed tokens from account state. It is a pure function of
// the account passed in and the keyring's current key: the tier is whatever
// the caller just read, never cached here.
type Issuer struct {
	keys     *keyring.Keyring
	issuer   string
	lifetime time.Duration
	now      func() time.Time
}

// IssuerOption configures the issuer.
type IssuerOption func(*Issuer)

// WithIssuerName sets the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) {
		if name != "" {
			i.issuer = name
		}
	}
}

// WithLifetime sets the token lifetime.
func WithLifetime(d time.Duration) IssuerOption {
	return func(i *Issuer) {
		if d > 0 {
			i.lifetime = d
		}
	}
}

// WithIssuerClock overrides the time source for tests.
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

func NewIssuer(keys *keyring.Keyring, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		keys:     keys,
		issuer:   "authgrid",
		lifetime: defaultLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Lifetime reports the configured token lifetime. The session manager uses
// it to place the renewal threshold.
func (i *Issuer) Lifetime() time.Duration { return i.lifetime }

// Issue signs a token for the account. Signing failure is a configuration
// problem, not a transient one; it is returned without retries.
func (i *Issuer) Issue(ctx context.Context, acct *account.Account, scopes []string) (SignedToken, error) {
	key, err := i.keys.Current()
	if err != nil {
		return SignedToken{}, err
	}

	now := i.now().UTC()
	exp := now.Add(i.lifetime)
	claims := Claims{
		Tier:   acct.Tier.String(),
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   acct.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = key.Kid
	raw, err := tok.SignedString(key.Private)
	if err != nil {
		return SignedToken{}, fmt.Errorf("token: sign: %w", err)
	}
	obs.TokenIssued()

	return SignedToken{Raw: raw, Kid: key.Kid, IssuedAt: now, ExpiresAt: exp}, nil
}
