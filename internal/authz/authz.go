// Package authz is the access decision point. It consumes claims the
// verifier already validated and applies the tier ordering; it performs no
// I/O and keeps no state.
package authz

import (
	"fmt"

	"authgrid.org/internal/account"
	"authgrid.org/internal/token"
)

// Decision is the outcome of an authorization check. Reason is only set on
// denial and is meant for diagnostics, not for end users.
type Decision struct {
	Granted bool
	Reason  string
}

// Grant and deny constructors keep call sites terse.
func grant() Decision { return Decision{Granted: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Authorize grants access iff the claims' tier satisfies the required tier
// under the total ordering. Expiry and signature are the verifier's job;
// by the time claims reach this function they are trusted.
func Authorize(claims *token.Claims, required account.Tier) Decision {
	if claims == nil {
		return deny("no claims")
	}
	tier, err := claims.AccountTier()
	if err != nil {
		return deny(fmt.Sprintf("unparsable tier %q", claims.Tier))
	}
	if !tier.AtLeast(required) {
		return deny(fmt.Sprintf("tier %s below required %s", tier, required))
	}
	return grant()
}

// RequireScope layers capability checks on top of the tier decision. Tokens
// without a scope list are unrestricted within their tier.
func RequireScope(claims *token.Claims, required account.Tier, scope string) Decision {
	decision := Authorize(claims, required)
	if !decision.Granted {
		return decision
	}
	if !claims.HasScope(scope) {
		return deny(fmt.Sprintf("missing scope %q", scope))
	}
	return grant()
}
