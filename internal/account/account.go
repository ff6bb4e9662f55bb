package account

import (
	"context"
	"errors"
	"time"
)

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

var (
	ErrNotFound      = errors.New("account: not found")
	ErrAlreadyExists = errors.New("account: already exists")
	// ErrAuthFailed is deliberately generic: callers never learn whether the
	// identifier or the secret was wrong.
	ErrAuthFailed = errors.New("account: authentication failed")
	ErrTimeout    = errors.New("account: operation timed out")
)

// Account is the identity record tokens are minted from. PasswordHash is a
// bcrypt digest; plaintext secrets never touch this struct.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Tier         Tier
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the account may authenticate and hold sessions.
func (a *Account) Active() bool {
	return a != nil && a.Status == StatusActive
}

// Repository is the durable store of account identity and tier. Accounts
// referenced by live sessions are disabled, not deleted.
type Repository interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// Authenticate checks credentials and returns the account on success.
	// Every failure mode (unknown email, wrong password, disabled account)
	// collapses into ErrAuthFailed.
	Authenticate(ctx context.Context, email, password string) (*Account, error)

	GetTier(ctx context.Context, id string) (Tier, error)
	SetTier(ctx context.Context, id string, tier Tier) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Disable(ctx context.Context, id string) error
}
