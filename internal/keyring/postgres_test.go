package keyring

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGStoreSaveAndLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec("insert into signing_keys").
		WithArgs("kid-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "active", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewPGStore(db)
	err = store.Save(context.Background(), &StoredKey{
		Kid:        "kid-1",
		PrivatePEM: "private",
		PublicPEM:  "public",
		State:      StateActive,
		CreatedAt:  now,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	mock.ExpectQuery("select kid, private_pem, public_pem, state, created_at, retire_at from signing_keys").
		WillReturnRows(sqlmock.NewRows([]string{"kid", "private_pem", "public_pem", "state", "created_at", "retire_at"}).
			AddRow("kid-1", "private", "public", "active", now, nil).
			AddRow("kid-0", "private0", "public0", "retiring", now.Add(-time.Hour), now.Add(time.Hour)))

	keys, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected two keys, got %d", len(keys))
	}
	if keys[0].State != StateActive || !keys[0].RetireAt.IsZero() {
		t.Fatalf("unexpected first key: %+v", keys[0])
	}
	if keys[1].State != StateRetiring || keys[1].RetireAt.IsZero() {
		t.Fatalf("unexpected second key: %+v", keys[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreStateTransitions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update signing_keys set state").
		WithArgs("retiring", sqlmock.AnyArg(), "kid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from signing_keys").
		WithArgs("kid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db)
	if err := store.UpdateState(context.Background(), "kid-1", StateRetiring, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if err := store.Delete(context.Background(), "kid-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
