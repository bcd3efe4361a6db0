package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/piwi3910/SlabQuote/internal/model"
)

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewMySQLStore(db), mock
}

func TestMySQLStore_EnsureSchema(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(mysqlSchema).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
}

func TestMySQLSchema_KeyFitsLongestQuoteID(t *testing.T) {
	want := fmt.Sprintf("VARCHAR(%d)", model.MaxQuoteIDLen)
	var found int
	for _, line := range strings.Split(mysqlSchema, "\n") {
		f := strings.Fields(line)
		if len(f) >= 2 && f[0] == "quote_id" {
			if f[1] != want {
				t.Errorf("quote_id column is %s, want %s", f[1], want)
			}
			found++
		}
	}
	if found != 2 {
		t.Errorf("expected 2 quote_id columns, found %d", found)
	}
}

func TestMySQLStore_CommitAccepted(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(upsertLayout).
		WithArgs("Q1", int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(liftSequence).
		WithArgs("Q1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.Commit(context.Background(), layout("Q1", 3, 1)); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestMySQLStore_CommitStale(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(upsertLayout).
		WithArgs("Q1", int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), layout("Q1", 5, 1))
	if !errors.Is(err, model.ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}
}

func TestMySQLStore_CommitExecError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(upsertLayout).
		WithArgs("Q1", int64(2), sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), layout("Q1", 2, 1))
	if !model.IsCode(err, model.CodeStore) {
		t.Fatalf("expected STORE error, got %v", err)
	}
}

func TestMySQLStore_Latest(t *testing.T) {
	s, mock := newMockStore(t)
	payload, err := json.Marshal(layout("Q1", 4, 2))
	if err != nil {
		t.Fatal(err)
	}
	mock.ExpectQuery(`SELECT result FROM quote_layouts WHERE quote_id = ?`).
		WithArgs("Q1").
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(payload))

	got, err := s.Latest(context.Background(), "Q1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.Sequence != 4 || got.TotalSlabs != 2 {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestMySQLStore_LatestMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT result FROM quote_layouts WHERE quote_id = ?`).
		WithArgs("Q9").
		WillReturnRows(sqlmock.NewRows([]string{"result"}))

	_, err := s.Latest(context.Background(), "Q9")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMySQLStore_NextSequence(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(allocSequence).
		WithArgs("Q1").
		WillReturnResult(sqlmock.NewResult(4, 2))

	seq, err := s.NextSequence(context.Background(), "Q1")
	if err != nil {
		t.Fatalf("NextSequence: %v", err)
	}
	if seq != 4 {
		t.Errorf("seq = %d, want 4", seq)
	}
}

func TestOpenMySQL_RejectsBadDSN(t *testing.T) {
	_, err := OpenMySQL(context.Background(), "not a dsn")
	if !model.IsCode(err, model.CodeInput) {
		t.Fatalf("expected input error, got %v", err)
	}
}
