package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func accountRows() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "email", "password_hash", "tier", "status", "created_at", "updated_at"}).
		AddRow("acc-1", "alice@example.com", "$2a$04$hash", "pro", StatusActive, now, now)
}

func TestPGFindByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select id, email, password_hash, tier, status, created_at, updated_at from accounts where email").
		WithArgs("alice@example.com").
		WillReturnRows(accountRows())

	repo := NewPGRepository(db)
	acct, err := repo.FindByEmail(context.Background(), " Alice@Example.com ")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if acct.Tier != TierPro {
		t.Fatalf("unexpected tier: %v", acct.Tier)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGFindNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select id, email, password_hash").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "tier", "status", "created_at", "updated_at"}))

	repo := NewPGRepository(db)
	if _, err := repo.Find(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGCreateDuplicateEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into accounts").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"})

	repo := NewPGRepository(db)
	err = repo.Create(context.Background(), &Account{
		Email:        "alice@example.com",
		PasswordHash: "$2a$04$hash",
		Tier:         TierAdmin,
	})
	// Idempotent bootstrap depends on this translation: a restart that
	// re-creates an existing account must see ErrAlreadyExists, not a
	// raw driver error.
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPGSetTier(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update accounts set tier").
		WithArgs("admin", "acc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPGRepository(db)
	if err := repo.SetTier(context.Background(), "acc-1", TierAdmin); err != nil {
		t.Fatalf("SetTier: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSetTierMissingAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update accounts set tier").
		WithArgs("pro", "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPGRepository(db)
	if err := repo.SetTier(context.Background(), "ghost", TierPro); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGGetTier(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select tier from accounts where id").
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"tier"}).AddRow("basic"))

	repo := NewPGRepository(db)
	tier, err := repo.GetTier(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("GetTier: %v", err)
	}
	if tier != TierBasic {
		t.Fatalf("unexpected tier: %v", tier)
	}
}
