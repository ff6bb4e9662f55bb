package httpapi

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"authgrid.org/internal/account"
	"authgrid.org/internal/audit"
	"authgrid.org/internal/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token            string    `json:"token"`
	TokenExpiresAt   time.Time `json:"token_expires_at"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

type renewResponse struct {
	Token          string    `json:"token"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	Renewed        bool      `json:"renewed"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := a.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrAuthFailed) {
			// One generic answer for bad email, bad password and
			// disabled accounts alike.
			unauthorized(w)
			return
		}
		a.failure(w, r, err)
		return
	}

	tok, err := a.issuer.Issue(r.Context(), acct, nil)
	if err != nil {
		a.failure(w, r, err)
		return
	}
	sess, err := a.sessions.Start(r.Context(), acct, tok)
	if err != nil {
		a.failure(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"account_id": acct.ID,
		"tier":       acct.Tier.String(),
		"session_id": sess.ID,
	})

	setSessionCookie(w, sess.ID, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:            tok.Raw,
		TokenExpiresAt:   tok.ExpiresAt,
		SessionExpiresAt: sess.ExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	cookie, err := r.Cookie(sessionCookie)
	if err == nil && cookie.Value != "" {
		if err := a.sessions.Terminate(r.Context(), cookie.Value); err != nil {
			a.failure(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
			"session_id": cookie.Value,
		})
	}
	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSessionRenew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	cookie, err := r.Cookie(sessionCookie)
	if err != nil || cookie.Value == "" {
		unauthorized(w)
		return
	}

	sess, renewed, err := a.sessions.Renew(r.Context(), cookie.Value)
	if err != nil {
		a.sessionFailure(w, r, err)
		return
	}
	if renewed {
		_ = audit.LogEvent(r.Context(), "auth.session.renew", map[string]any{
			"session_id": sess.ID,
			"account_id": sess.AccountID,
		})
	}

	writeJSON(w, http.StatusOK, renewResponse{
		Token:          sess.Token,
		TokenExpiresAt: sess.TokenExpiresAt,
		Renewed:        renewed,
	})
}

// sessionFailure keeps unknown and expired sessions indistinguishable to
// the caller while logging the real cause.
func (a *API) sessionFailure(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionExpired) {
		a.logger.Debug("session rejected", zap.Error(err))
		unauthorized(w)
		return
	}
	a.failure(w, r, err)
}

func (a *API) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	raw, err := a.keys.JWKS()
	if err != nil {
		a.failure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	// Remote verifiers may cache; rotation keeps the old key in the set
	// for the whole grace window, so short staleness is harmless.
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(raw)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	claims, ok := claimsFrom(r)
	if !ok {
		unauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": claims.Subject,
		"tier":       claims.Tier,
		"scopes":     claims.Scopes,
		"expires_at": claims.ExpiresAt.Time,
	})
}
