package account

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"authgrid.org/internal/ids"
)

// checkCredentials applies the uniform credential decision shared by every
// repository implementation. The account lookup error, a disabled account
// and a password mismatch all produce the same ErrAuthFailed.
func checkCredentials(acct *Account, lookupErr error, password string) (*Account, error) {
	if lookupErr != nil {
		if errors.Is(lookupErr, ErrNotFound) {
			return nil, ErrAuthFailed
		}
		return nil, lookupErr
	}
	if !acct.Active() {
		return nil, ErrAuthFailed
	}
	if err := VerifyPassword(acct.PasswordHash, password); err != nil {
		return nil, ErrAuthFailed
	}
	return acct, nil
}

// MemoryRepository keeps accounts in process memory. Used by tests and
// single-node development; production deployments use the Postgres
// repository.
type MemoryRepository struct {
	mu       sync.RWMutex
	byID     map[string]*Account
	byEmail  map[string]string
	now      func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *MemoryRepository) Create(ctx context.Context, a *Account) error {
	email := normalizeEmail(a.Email)
	if email == "" {
		return errors.New("account: email is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[email]; exists {
		return ErrAlreadyExists
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	now := r.now().UTC()
	a.Email = email
	a.CreatedAt = now
	a.UpdatedAt = now

	clone := *a
	r.byID[a.ID] = &clone
	r.byEmail[email] = a.ID
	return nil
}

func (r *MemoryRepository) Find(ctx context.Context, id string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *acct
	return &clone, nil
}

func (r *MemoryRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r.byID[id]
	return &clone, nil
}

func (r *MemoryRepository) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	acct, err := r.FindByEmail(ctx, email)
	return checkCredentials(acct, err, password)
}

func (r *MemoryRepository) GetTier(ctx context.Context, id string) (Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	return acct.Tier, nil
}

func (r *MemoryRepository) SetTier(ctx context.Context, id string, tier Tier) error {
	if !tier.Valid() {
		return errors.New("account: invalid tier")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	acct.Tier = tier
	acct.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	acct.PasswordHash = passwordHash
	acct.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryRepository) Disable(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	acct.Status = StatusDisabled
	acct.UpdatedAt = r.now().UTC()
	return nil
}
