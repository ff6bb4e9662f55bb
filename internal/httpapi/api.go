package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"authgrid.org/internal/account"
	"authgrid.org/internal/keyring"
	"authgrid.org/internal/obs"
	"authgrid.org/internal/session"
	"authgrid.org/internal/token"
)

const serviceName = "authgrid-api"

// Pinger is anything with a connectivity check; the Redis session store
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the dependencies a serving process needs.
type ReadyProbe struct {
	DB    *sql.DB
	Cache Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Cache != nil {
		if err := rp.Cache.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// API is the HTTP surface of the authority.
type API struct {
	mux     *http.ServeMux
	ready   ReadyProbe
	version string
	logger  *zap.Logger

	accounts account.Repository
	sessions *session.Manager
	issuer   *token.Issuer
	verifier *token.Verifier
	keys     *keyring.Keyring
}

// Deps carries the constructed singletons into the transport layer.
type Deps struct {
	Ready    ReadyProbe
	Version  string
	Logger   *zap.Logger
	Accounts account.Repository
	Sessions *session.Manager
	Issuer   *token.Issuer
	Verifier *token.Verifier
	Keys     *keyring.Keyring
}

func New(deps Deps) *API {
	a := &API{
		mux:      http.NewServeMux(),
		ready:    deps.Ready,
		version:  deps.Version,
		logger:   deps.Logger,
		accounts: deps.Accounts,
		sessions: deps.Sessions,
		issuer:   deps.Issuer,
		verifier: deps.Verifier,
		keys:     deps.Keys,
	}
	if a.logger == nil {
		a.logger = obs.Logger()
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/login", a.handleLogin)
	a.mux.HandleFunc("/v1/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/session/renew", a.handleSessionRenew)
	a.mux.HandleFunc("/v1/jwks", a.handleJWKS)
	a.mux.HandleFunc("/v1/me", a.handleMe)

	a.mux.HandleFunc("/v1/accounts/", a.handleAccountScoped)
	a.mux.HandleFunc("/v1/keys/rotate", a.handleKeyRotate)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, 50, 25)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = Logging(a.logger, h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- probes ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// unauthorized is the single response for every authentication failure.
// The actual cause stays in the diagnostic logs.
func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="authgrid"`)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

// failure distinguishes "could not decide" from denial: I/O trouble maps to
// 5xx, everything else the caller did wrong stays 4xx at the call site.
func (a *API) failure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, account.ErrTimeout), errors.Is(err, session.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		a.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathSuffix(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// sessionCookie names the opaque session identifier cookie.
const sessionCookie = "authgrid_session"

func setSessionCookie(w http.ResponseWriter, id string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}
