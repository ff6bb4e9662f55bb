package keyring

import (
	"context"
	"database/sql"
	"time"
)

// PGStore persists keys in the signing_keys table.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Save(ctx context.Context, key *StoredKey) error {
	_, err := s.db.ExecContext(ctx,
		`insert into signing_keys(kid, private_pem, public_pem, state, created_at, retire_at)
		 values($1,$2,$3,$4,$5,$6)`,
		key.Kid, key.PrivatePEM, key.PublicPEM, string(key.State), key.CreatedAt, nullableTime(key.RetireAt),
	)
	return err
}

func (s *PGStore) UpdateState(ctx context.Context, kid string, state State, retireAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update signing_keys set state=$1, retire_at=$2 where kid=$3`,
		string(state), nullableTime(retireAt), kid,
	)
	return err
}

func (s *PGStore) Delete(ctx context.Context, kid string) error {
	_, err := s.db.ExecContext(ctx, `delete from signing_keys where kid=$1`, kid)
	return err
}

func (s *PGStore) Load(ctx context.Context) ([]*StoredKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`select kid, private_pem, public_pem, state, created_at, retire_at from signing_keys order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*StoredKey
	for rows.Next() {
		var (
			key      StoredKey
			state    string
			retireAt sql.NullTime
		)
		if err := rows.Scan(&key.Kid, &key.PrivatePEM, &key.PublicPEM, &state, &key.CreatedAt, &retireAt); err != nil {
			return nil, err
		}
		key.State = State(state)
		if retireAt.Valid {
			key.RetireAt = retireAt.Time
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

// nullableTime maps the zero time to SQL NULL: a key that was never demoted
// has no retire deadline.
func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
