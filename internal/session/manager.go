package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"authgrid.org/internal/account"
	"authgrid.org/internal/ids"
	"authgrid.org/internal/obs"
	"authgrid.org/internal/token"
)

const (
	defaultLifetime  = 24 * time.Hour
	defaultThreshold = 5 * time.Minute
)

// Manager owns interactive login state. It is a process-wide singleton,
// constructed at startup and injected wherever sessions are touched.
// Mutations on one session id serialize through a per-id lock; different
// ids proceed in parallel.
type Manager struct {
	store     Store
	accounts  account.Repository
	issuer    *token.Issuer
	lifetime  time.Duration
	threshold time.Duration
	now       func() time.Time
	locks     keyedLocks
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithLifetime sets the session lifetime. It should cover several token
// renewal cycles.
func WithLifetime(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.lifetime = d
		}
	}
}

// WithRenewalThreshold controls how close to token expiry Renew re-issues.
func WithRenewalThreshold(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.threshold = d
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

func NewManager(store Store, accounts account.Repository, issuer *token.Issuer, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		accounts:  accounts,
		issuer:    issuer,
		lifetime:  defaultLifetime,
		threshold: defaultThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start binds a freshly issued token to a new session.
func (m *Manager) Start(ctx context.Context, acct *account.Account, tok token.SignedToken) (*Session, error) {
	now := m.now().UTC()
	sess := &Session{
		ID:             ids.New(),
		AccountID:      acct.ID,
		Token:          tok.Raw,
		TokenExpiresAt: tok.ExpiresAt,
		ExpiresAt:      now.Add(m.lifetime),
		CreatedAt:      now,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, mapStoreErr(err)
	}
	obs.SessionOpened()
	return sess, nil
}

// Resolve returns the session for an id. Unknown ids fail ErrSessionNotFound;
// a session past its own expiry is removed and fails ErrSessionExpired. The
// transport layer answers both identically.
func (m *Manager) Resolve(ctx context.Context, id string) (*Session, error) {
	sess, err := m.store.Find(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if sess.Expired(m.now().UTC()) {
		if removed, _ := m.store.Delete(ctx, id); removed {
			obs.SessionClosed()
		}
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Renew re-issues the session's token when it is within the renewal
// threshold of expiry, and is a no-op otherwise; the boolean reports which
// happened. The session id never changes. Concurrent calls on the same id
// serialize, so two renewals can never race to store inconsistent tokens.
func (m *Manager) Renew(ctx context.Context, id string) (*Session, bool, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	sess, err := m.Resolve(ctx, id)
	if err != nil {
		return nil, false, err
	}

	now := m.now().UTC()
	if sess.TokenExpiresAt.Sub(now) > m.threshold {
		obs.SessionRenewed(false)
		return sess, false, nil
	}

	// The tier is read fresh here: a tier change between renewals lands in
	// the next token, not in any already-issued one.
	acct, err := m.accounts.Find(ctx, sess.AccountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			_, _ = m.store.Delete(ctx, id)
			return nil, false, ErrSessionNotFound
		}
		return nil, false, fmt.Errorf("session: renew %s: %w", id, err)
	}
	if !acct.Active() {
		if removed, _ := m.store.Delete(ctx, id); removed {
			obs.SessionClosed()
		}
		return nil, false, ErrSessionNotFound
	}

	tok, err := m.issuer.Issue(ctx, acct, nil)
	if err != nil {
		return nil, false, fmt.Errorf("session: renew %s: %w", id, err)
	}
	if err := m.store.UpdateToken(ctx, id, tok.Raw, tok.ExpiresAt, now); err != nil {
		return nil, false, mapStoreErr(err)
	}
	obs.SessionRenewed(true)

	sess.Token = tok.Raw
	sess.TokenExpiresAt = tok.ExpiresAt
	sess.RenewedAt = now
	return sess, true, nil
}

// Terminate ends a session. Idempotent: terminating an unknown or already
// terminated id succeeds quietly.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	unlock := m.locks.lock(id)
	defer unlock()

	removed, err := m.store.Delete(ctx, id)
	if err != nil {
		return mapStoreErr(err)
	}
	if removed {
		obs.SessionClosed()
	}
	return nil
}

// SweepExpired drops lapsed sessions. Run periodically from the process
// lifecycle.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	removed, err := m.store.DeleteExpired(ctx, m.now().UTC())
	for i := 0; i < removed; i++ {
		obs.SessionClosed()
	}
	return removed, err
}

// Flush runs a final sweep at shutdown so durable stores do not accumulate
// dead rows across restarts.
func (m *Manager) Flush(ctx context.Context) error {
	_, err := m.SweepExpired(ctx)
	return err
}

func mapStoreErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// keyedLocks serializes operations per session id without a store-wide
// lock. Entries are reference counted and removed when the last holder
// releases.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *keyedLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[string]*lockEntry)
	}
	entry, ok := l.entries[id]
	if !ok {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
