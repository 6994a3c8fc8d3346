package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var recordColumns = []string{"id", "data", "version", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGStore{DB: db}, mock
}

func TestPGStoreGet(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, data, version, created_at, updated_at").
		WithArgs("prompts", "p1").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("p1", []byte(`{"id":"p1","status":"generated"}`), int64(3), now, now))

	rec, err := store.Get(context.Background(), "prompts", "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Version != 3 || rec.Data["status"] != "generated" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreGetMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, data, version, created_at, updated_at").
		WithArgs("prompts", "missing").
		WillReturnRows(sqlmock.NewRows(recordColumns))

	if _, err := store.Get(context.Background(), "prompts", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGStoreUpdateIfConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE documents").
		WithArgs("prompts", "p1", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(3)).
		WillReturnRows(sqlmock.NewRows(recordColumns))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("prompts", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := store.UpdateIf(context.Background(), "prompts", "p1", 3, map[string]any{"status": "executing"})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreUpdateIfSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE documents").
		WithArgs("prompts", "p1", []byte(`{"status":"executing"}`), sqlmock.AnyArg(), int64(3)).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("p1", []byte(`{"id":"p1","status":"executing"}`), int64(4), now, now))

	rec, err := store.UpdateIf(context.Background(), "prompts", "p1", 3, map[string]any{"status": "executing", "id": "ignored"})
	if err != nil {
		t.Fatalf("UpdateIf: %v", err)
	}
	if rec.Version != 4 {
		t.Fatalf("expected version 4, got %d", rec.Version)
	}
}

func TestPGStoreQueryBuildsConditions(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`WHERE collection = \$1 AND data -> \$2::text = \$3::jsonb ORDER BY data -> \$4::text DESC, id LIMIT \$5`).
		WithArgs("prompts", "userId", `"u1"`, "createdAt", 10).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("p2", []byte(`{"id":"p2","userId":"u1"}`), int64(1), now, now).
			AddRow("p1", []byte(`{"id":"p1","userId":"u1"}`), int64(1), now, now))

	recs, err := store.Query(context.Background(), "prompts",
		[]Condition{Where("userId", "u1")},
		QueryOptions{OrderBy: "createdAt", Direction: Desc, Limit: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "p2" {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
