package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"authgrid.org/internal/account"
	"authgrid.org/internal/keyring"
	"authgrid.org/internal/session"
	"authgrid.org/internal/token"
)

const testPassword = "s3cret-enough"

type apiFixture struct {
	handler  http.Handler
	accounts *account.MemoryRepository
	keys     *keyring.Keyring
}

// newAPIFixture builds the full transport stack on in-memory stores. The
// renewal threshold is configurable so tests can force or suppress the
// reissue path without a fake clock.
func newAPIFixture(t *testing.T, threshold time.Duration) *apiFixture {
	t.Helper()

	keys, err := keyring.New(context.Background(), keyring.NewMemoryStore(),
		keyring.WithKeyBits(1024),
		keyring.WithGraceWindow(time.Hour),
		keyring.WithMaxTokenLifetime(15*time.Minute),
	)
	if err != nil {
		t.Fatalf("keyring.New: %v", err)
	}
	t.Cleanup(keys.Close)

	accounts := account.NewMemoryRepository()
	issuer := token.NewIssuer(keys,
		token.WithIssuerName("authgrid"),
		token.WithLifetime(15*time.Minute),
	)
	verifier := token.NewVerifier(keys, token.WithExpectedIssuer("authgrid"))
	sessions := session.NewManager(session.NewMemoryStore(), accounts, issuer,
		session.WithLifetime(24*time.Hour),
		session.WithRenewalThreshold(threshold),
	)

	api := New(Deps{
		Version:  "test",
		Logger:   zap.NewNop(),
		Accounts: accounts,
		Sessions: sessions,
		Issuer:   issuer,
		Verifier: verifier,
		Keys:     keys,
	})
	return &apiFixture{handler: api.Handler(), accounts: accounts, keys: keys}
}

func (f *apiFixture) createAccount(t *testing.T, email string, tier account.Tier) *account.Account {
	t.Helper()
	hash, err := account.HashPassword(testPassword, 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	acct := &account.Account{Email: email, PasswordHash: hash, Tier: tier}
	if err := f.accounts.Create(context.Background(), acct); err != nil {
		t.Fatalf("Create account: %v", err)
	}
	return acct
}

func (f *apiFixture) login(t *testing.T, email, password string) (*httptest.ResponseRecorder, loginResponse, *http.Cookie) {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Email: email, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/v1/login", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	var resp loginResponse
	var cookie *http.Cookie
	if rr.Code == http.StatusOK {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode login response: %v", err)
		}
		for _, c := range rr.Result().Cookies() {
			if c.Name == sessionCookie {
				cookie = c
			}
		}
		if cookie == nil {
			t.Fatal("login did not set the session cookie")
		}
	}
	return rr, resp, cookie
}

func TestLoginIssuesTokenAndSession(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)
	f.createAccount(t, "alice@example.com", account.TierBasic)

	rr, resp, cookie := f.login(t, "alice@example.com", testPassword)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if resp.Token == "" {
		t.Fatal("expected a token in the login response")
	}
	if !resp.SessionExpiresAt.After(resp.TokenExpiresAt) {
		t.Fatal("session must outlive its token")
	}
	if !cookie.HttpOnly {
		t.Fatal("session cookie must be HttpOnly")
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)
	f.createAccount(t, "alice@example.com", account.TierBasic)

	badPassword, _, _ := f.login(t, "alice@example.com", "wrong")
	unknownEmail, _, _ := f.login(t, "nobody@example.com", testPassword)

	if badPassword.Code != http.StatusUnauthorized || unknownEmail.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", badPassword.Code, unknownEmail.Code)
	}
	// A caller probing for registered emails must see identical answers.
	if badPassword.Body.String() != unknownEmail.Body.String() {
		t.Fatal("bad-password and unknown-email responses must be indistinguishable")
	}
}

func TestGuardRejectsMissingCredentials(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
}

func TestGuardAcceptsBearerToken(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)
	acct := f.createAccount(t, "alice@example.com", account.TierPro)
	rr, resp, _ := f.login(t, "alice@example.com", testPassword)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	me := httptest.NewRecorder()
	f.handler.ServeHTTP(me, req)

	if me.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d (%s)", me.Code, me.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(me.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["account_id"] != acct.ID || body["tier"] != "pro" {
		t.Fatalf("unexpected claims echo: %v", body)
	}
}

func TestGuardAcceptsSessionCookie(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)
	f.createAccount(t, "alice@example.com", account.TierBasic)
	rr, _, cookie := f.login(t, "alice@example.com", testPassword)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	f.handler.ServeHTTP(me, req)

	if me.Code != http.StatusOK {
		t.Fatalf("me via cookie: expected 200, got %d (%s)", me.Code, me.Body.String())
	}
}

func TestGuardRejectsGarbageToken(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestLogoutEndsSession(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)
	f.createAccount(t, "alice@example.com", account.TierBasic)
	rr, _, cookie := f.login(t, "alice@example.com", testPassword)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d", rr.Code)
	}

	logout := httptest.NewRequest(http.MethodPost, "/v1/logout", nil)
	logout.AddCookie(cookie)
	out := httptest.NewRecorder()
	f.handler.ServeHTTP(out, logout)
	if out.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", out.Code)
	}

	// The cookie is now dead for guarded routes.
	me := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	me.AddCookie(cookie)
	meRR := httptest.NewRecorder()
	f.handler.ServeHTTP(meRR, me)
	if meRR.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout: expected 401, got %d", meRR.Code)
	}

	// Logging out again is a quiet no-op.
	again := httptest.NewRequest(http.MethodPost, "/v1/logout", nil)
	again.AddCookie(cookie)
	againRR := httptest.NewRecorder()
	f.handler.ServeHTTP(againRR, again)
	if againRR.Code != http.StatusNoContent {
		t.Fatalf("second logout: expected 204, got %d", againRR.Code)
	}
}

func TestRenewFarFromExpiryIsNoop(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)
	f.createAccount(t, "alice@example.com", account.TierBasic)
	rr, resp, cookie := f.login(t, "alice@example.com", testPassword)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/session/renew", nil)
	req.AddCookie(cookie)
	renew := httptest.NewRecorder()
	f.handler.ServeHTTP(renew, req)

	if renew.Code != http.StatusOK {
		t.Fatalf("renew: expected 200, got %d (%s)", renew.Code, renew.Body.String())
	}
	var body renewResponse
	if err := json.Unmarshal(renew.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Renewed || body.Token != resp.Token {
		t.Fatal("renew far from expiry must return the current token unchanged")
	}
}

func TestRenewNearExpiryReissues(t *testing.T) {
	// A threshold longer than the token lifetime makes every renew reissue.
	f := newAPIFixture(t, time.Hour)
	f.createAccount(t, "alice@example.com", account.TierBasic)
	rr, resp, cookie := f.login(t, "alice@example.com", testPassword)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/session/renew", nil)
	req.AddCookie(cookie)
	renew := httptest.NewRecorder()
	f.handler.ServeHTTP(renew, req)

	if renew.Code != http.StatusOK {
		t.Fatalf("renew: expected 200, got %d (%s)", renew.Code, renew.Body.String())
	}
	var body renewResponse
	if err := json.Unmarshal(renew.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Renewed || body.Token == resp.Token {
		t.Fatal("expected a reissued token")
	}
}

func TestRenewWithoutCookie(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/v1/session/renew", nil)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestSetTierRequiresAdmin(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)
	target := f.createAccount(t, "bob@example.com", account.TierBasic)
	f.createAccount(t, "alice@example.com", account.TierPro)
	f.createAccount(t, "root@example.com", account.TierAdmin)

	setTier := func(bearer string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(setTierRequest{Tier: "pro"})
		req := httptest.NewRequest(http.MethodPut,
			fmt.Sprintf("/v1/accounts/%s/tier", target.ID), bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+bearer)
		rr := httptest.NewRecorder()
		f.handler.ServeHTTP(rr, req)
		return rr
	}

	_, pro, _ := f.login(t, "alice@example.com", testPassword)
	if rr := setTier(pro.Token); rr.Code != http.StatusForbidden {
		t.Fatalf("pro caller: expected 403, got %d", rr.Code)
	}

	_, admin, _ := f.login(t, "root@example.com", testPassword)
	if rr := setTier(admin.Token); rr.Code != http.StatusOK {
		t.Fatalf("admin caller: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	got, err := f.accounts.GetTier(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("GetTier: %v", err)
	}
	if got != account.TierPro {
		t.Fatalf("expected tier pro after update, got %s", got)
	}
}

func TestSetTierUnknownAccount(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)
	f.createAccount(t, "root@example.com", account.TierAdmin)
	_, admin, _ := f.login(t, "root@example.com", testPassword)

	body, _ := json.Marshal(setTierRequest{Tier: "pro"})
	req := httptest.NewRequest(http.MethodPut, "/v1/accounts/no-such-id/tier", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+admin.Token)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestKeyRotateKeepsOldTokensVerifying(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)
	f.createAccount(t, "root@example.com", account.TierAdmin)
	_, admin, _ := f.login(t, "root@example.com", testPassword)

	rotate := httptest.NewRequest(http.MethodPost, "/v1/keys/rotate", nil)
	rotate.Header.Set("Authorization", "Bearer "+admin.Token)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, rotate)
	if rr.Code != http.StatusOK {
		t.Fatalf("rotate: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["kid"] == "" {
		t.Fatal("expected the new kid in the rotate response")
	}
	if len(f.keys.VerificationKeys()) != 2 {
		t.Fatal("expected the demoted key to stay in the verification set")
	}

	// The pre-rotation token stays valid for the grace window.
	me := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	me.Header.Set("Authorization", "Bearer "+admin.Token)
	meRR := httptest.NewRecorder()
	f.handler.ServeHTTP(meRR, me)
	if meRR.Code != http.StatusOK {
		t.Fatalf("me after rotation: expected 200, got %d", meRR.Code)
	}
}

func TestKeyRotateForbiddenBelowAdmin(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)
	f.createAccount(t, "alice@example.com", account.TierBasic)
	_, basic, _ := f.login(t, "alice@example.com", testPassword)

	req := httptest.NewRequest(http.MethodPost, "/v1/keys/rotate", nil)
	req.Header.Set("Authorization", "Bearer "+basic.Token)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestJWKSIsPublic(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1/jwks", nil)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("jwks: expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Cache-Control") == "" {
		t.Fatal("expected a Cache-Control header")
	}
	var doc struct {
		Keys []map[string]string `json:"keys"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode jwks: %v", err)
	}
	if len(doc.Keys) == 0 {
		t.Fatal("expected at least one key")
	}
	k := doc.Keys[0]
	if k["kty"] != "RSA" || k["alg"] != "RS256" || k["kid"] == "" {
		t.Fatalf("unexpected jwk: %v", k)
	}
}

func TestHealthAndReady(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		f.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestLoginMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t, 5*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1/login", nil)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected Allow: POST, got %q", rr.Header().Get("Allow"))
	}
}
