package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGStore persists sessions in the sessions table.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func pgErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrSessionNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return err
	}
}

func (s *PGStore) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, account_id, token, token_expires_at, expires_at, created_at)
		 values($1,$2,$3,$4,$5,$6)`,
		sess.ID, sess.AccountID, sess.Token, sess.TokenExpiresAt, sess.ExpiresAt, sess.CreatedAt,
	)
	return pgErr(err)
}

func (s *PGStore) Find(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, account_id, token, token_expires_at, expires_at, created_at, renewed_at
		 from sessions where id=$1`, id)
	var (
		sess      Session
		renewedAt sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.AccountID, &sess.Token, &sess.TokenExpiresAt,
		&sess.ExpiresAt, &sess.CreatedAt, &renewedAt); err != nil {
		return nil, pgErr(err)
	}
	if renewedAt.Valid {
		sess.RenewedAt = renewedAt.Time
	}
	return &sess, nil
}

func (s *PGStore) UpdateToken(ctx context.Context, id, raw string, tokenExpiresAt, renewedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set token=$1, token_expires_at=$2, renewed_at=$3 where id=$4`,
		raw, tokenExpiresAt, renewedAt, id,
	)
	if err != nil {
		return pgErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where id=$1`, id)
	if err != nil {
		return false, pgErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PGStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at <= $1`, now)
	if err != nil {
		return 0, pgErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
