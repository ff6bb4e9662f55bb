package httpapi

import (
	"errors"
	"net/http"

	"authgrid.org/internal/account"
	"authgrid.org/internal/audit"
)

type setTierRequest struct {
	Tier string `json:"tier"`
}

// handleAccountScoped routes /v1/accounts/{id}/... subresources. Only the
// tier subresource exists today.
func (a *API) handleAccountScoped(w http.ResponseWriter, r *http.Request) {
	parts := pathSuffix(r.URL.Path, "/v1/accounts/")
	if len(parts) != 2 || parts[1] != "tier" {
		http.NotFound(w, r)
		return
	}
	a.requireTier(account.TierAdmin, func(w http.ResponseWriter, r *http.Request) {
		a.handleSetTier(w, r, parts[0])
	})(w, r)
}

func (a *API) handleSetTier(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}
	var req setTierRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tier, err := account.ParseTier(req.Tier)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown tier")
		return
	}

	if err := a.accounts.SetTier(r.Context(), id, tier); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		a.failure(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "account.tier_changed", map[string]any{
		"target_account": id,
		"tier":           tier.String(),
	})

	// Tokens already in flight keep their old tier until they expire;
	// the change lands on the next issuance or renewal.
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": id,
		"tier":       tier.String(),
	})
}

func (a *API) handleKeyRotate(w http.ResponseWriter, r *http.Request) {
	a.requireTier(account.TierAdmin, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		kid, err := a.keys.Rotate(r.Context())
		if err != nil {
			a.failure(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "keys.rotated", map[string]any{
			"kid": kid,
		})
		writeJSON(w, http.StatusOK, map[string]any{"kid": kid})
	})(w, r)
}
