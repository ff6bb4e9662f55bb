package token

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"

	"authgrid.org/internal/account"
)

// Claims are the structured fields embedded in a token. Tier is the
// account's tier at issuance time; a later tier change never amends an
// already-issued token, so token lifetime is the staleness bound downstream
// consumers must accept.
type Claims struct {
	Tier   string   `json:"tier"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// AccountTier parses the embedded tier name back into the ordered set.
func (c *Claims) AccountTier() (account.Tier, error) {
	tier, err := account.ParseTier(c.Tier)
	if err != nil {
		return 0, ErrInvalidClaims
	}
	return tier, nil
}

// HasScope reports whether the token carries the named capability. A token
// with no scope list carries every capability its tier allows.
func (c *Claims) HasScope(scope string) bool {
	if len(c.Scopes) == 0 {
		return true
	}
	return slices.Contains(c.Scopes, scope)
}
