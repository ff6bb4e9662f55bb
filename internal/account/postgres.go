package account

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"authgrid.org/internal/ids"
)

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	db *sql.DB
}

var _ Repository = (*PGRepository)(nil)

func NewPGRepository(db *sql.DB) *PGRepository {
	return &PGRepository{db: db}
}

// mapErr translates driver errors into package sentinels so callers can
// distinguish "could not decide" from "denied".
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.As(err, &pgErr) && pgErr.Code == "23505":
		// Unique violation on id or email.
		return ErrAlreadyExists
	default:
		return err
	}
}

func (r *PGRepository) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	a.Email = normalizeEmail(a.Email)
	_, err := r.db.ExecContext(ctx,
		`insert into accounts(id, email, password_hash, tier, status) values($1,$2,$3,$4,$5)`,
		a.ID, a.Email, a.PasswordHash, a.Tier.String(), a.Status,
	)
	return mapErr(err)
}

func (r *PGRepository) scanOne(row *sql.Row) (*Account, error) {
	var (
		a    Account
		tier string
	)
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &tier, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	parsed, err := ParseTier(tier)
	if err != nil {
		return nil, err
	}
	a.Tier = parsed
	return &a, nil
}

func (r *PGRepository) Find(ctx context.Context, id string) (*Account, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`select id, email, password_hash, tier, status, created_at, updated_at from accounts where id=$1`, id))
}

func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`select id, email, password_hash, tier, status, created_at, updated_at from accounts where email=$1`,
		normalizeEmail(email)))
}

func (r *PGRepository) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	acct, err := r.FindByEmail(ctx, email)
	return checkCredentials(acct, err, password)
}

// GetTier is a single atomic fetch. Issuance reads the tier through this
// path so a concurrent tier change is reflected on the very next mint.
func (r *PGRepository) GetTier(ctx context.Context, id string) (Tier, error) {
	var tier string
	err := r.db.QueryRowContext(ctx, `select tier from accounts where id=$1`, id).Scan(&tier)
	if err != nil {
		return 0, mapErr(err)
	}
	return ParseTier(tier)
}

func (r *PGRepository) SetTier(ctx context.Context, id string, tier Tier) error {
	if !tier.Valid() {
		return errors.New("account: invalid tier")
	}
	res, err := r.db.ExecContext(ctx,
		`update accounts set tier=$1, updated_at=now() where id=$2`, tier.String(), id)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func (r *PGRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`update accounts set password_hash=$1, updated_at=now() where id=$2`, passwordHash, id)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func (r *PGRepository) Disable(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`update accounts set status=$1, updated_at=now() where id=$2`, StatusDisabled, id)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
