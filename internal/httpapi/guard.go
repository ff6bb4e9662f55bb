package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"authgrid.org/internal/account"
	"authgrid.org/internal/authz"
	"authgrid.org/internal/token"
)

// publicPaths are reachable without credentials. Everything else behind
// the mux requires a verified token or a live session.
var publicPaths = map[string]bool{
	"/":                 true,
	"/healthz":          true,
	"/readyz":           true,
	"/metrics":          true,
	"/v1/login":         true,
	"/v1/jwks":          true,
	"/v1/logout":        true,
	"/v1/session/renew": true,
}

// withAuth authenticates the request either from a bearer token or from
// the session cookie. Cookie-backed requests renew the session implicitly
// when its token is close to expiring, so browser clients never have to
// call the renew endpoint themselves. Verified claims land in the request
// context for the handlers downstream.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := bearerToken(r)
		if !ok {
			cookie, err := r.Cookie(sessionCookie)
			if err != nil || cookie.Value == "" {
				unauthorized(w)
				return
			}
			sess, _, err := a.sessions.Renew(r.Context(), cookie.Value)
			if err != nil {
				a.sessionFailure(w, r, err)
				return
			}
			raw = sess.Token
		}

		claims, err := a.verifier.Verify(raw)
		if err != nil {
			a.logger.Debug("token rejected",
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			unauthorized(w)
			return
		}

		ctx := token.ContextWithClaims(r.Context(), claims)
		ctx = token.ContextWithRaw(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

func claimsFrom(r *http.Request) (*token.Claims, bool) {
	return token.ClaimsFromContext(r.Context())
}

// requireTier gates a handler behind a minimum account tier. Requests that
// reach it are already authenticated, so a denial here is 403, not 401.
func (a *API) requireTier(required account.Tier, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			unauthorized(w)
			return
		}
		if d := authz.Authorize(claims, required); !d.Granted {
			a.logger.Debug("tier denied",
				zap.String("path", r.URL.Path),
				zap.String("subject", claims.Subject),
				zap.String("reason", d.Reason),
			)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	}
}
