package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/piwi3910/SlabQuote/internal/model"
)

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS quote_layouts (
	quote_id   VARCHAR(128) NOT NULL PRIMARY KEY,
	sequence   BIGINT       NOT NULL,
	result     JSON         NOT NULL,
	updated_at DATETIME     NOT NULL
);
CREATE TABLE IF NOT EXISTS quote_sequences (
	quote_id      VARCHAR(128) NOT NULL PRIMARY KEY,
	last_sequence BIGINT       NOT NULL
)`

// The sequence column is assigned last so the IF() guards still see the
// committed value.
const upsertLayout = `INSERT INTO quote_layouts (quote_id, sequence, result, updated_at)
VALUES (?, ?, ?, UTC_TIMESTAMP())
ON DUPLICATE KEY UPDATE
	result = IF(VALUES(sequence) > sequence, VALUES(result), result),
	updated_at = IF(VALUES(sequence) > sequence, VALUES(updated_at), updated_at),
	sequence = GREATEST(sequence, VALUES(sequence))`

const liftSequence = `INSERT INTO quote_sequences (quote_id, last_sequence) VALUES (?, ?)
ON DUPLICATE KEY UPDATE last_sequence = GREATEST(last_sequence, VALUES(last_sequence))`

const allocSequence = `INSERT INTO quote_sequences (quote_id, last_sequence) VALUES (?, LAST_INSERT_ID(1))
ON DUPLICATE KEY UPDATE last_sequence = LAST_INSERT_ID(last_sequence + 1)`

// MySQLStore keeps layouts in MySQL.
type MySQLStore struct {
	db *sql.DB
}

// OpenMySQL connects, verifies the connection and creates the tables.
func OpenMySQL(ctx context.Context, dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, model.WrapError(model.CodeInput, err, "invalid mysql dsn")
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, storeError(err, "open mysql")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, storeError(err, "ping mysql")
	}

	s := NewMySQLStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewMySQLStore wraps an open database handle.
func NewMySQLStore(db *sql.DB) *MySQLStore { return &MySQLStore{db: db} }

// EnsureSchema creates the layout and sequence tables when missing.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, mysqlSchema); err != nil {
		return storeError(err, "create schema")
	}
	return nil
}

func (s *MySQLStore) Latest(ctx context.Context, quoteID string) (model.OptimizationResult, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM quote_layouts WHERE quote_id = ?`, quoteID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.OptimizationResult{}, model.ErrNotFound
	}
	if err != nil {
		return model.OptimizationResult{}, storeError(err, "load layout for %s", quoteID)
	}
	var res model.OptimizationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return model.OptimizationResult{}, storeError(err, "decode layout for %s", quoteID)
	}
	return res, nil
}

// Commit runs the guarded upsert and lifts the sequence counter in one
// transaction. Zero affected rows means the committed sequence was not older.
func (s *MySQLStore) Commit(ctx context.Context, result model.OptimizationResult) error {
	if err := validateCommit(result); err != nil {
		return err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return storeError(err, "encode layout for %s", result.QuoteID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError(err, "begin commit for %s", result.QuoteID)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, upsertLayout, result.QuoteID, result.Sequence, payload)
	if err != nil {
		return storeError(err, "upsert layout for %s", result.QuoteID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError(err, "upsert layout for %s", result.QuoteID)
	}
	if n == 0 {
		return model.ErrStaleWrite
	}

	if _, err := tx.ExecContext(ctx, liftSequence, result.QuoteID, result.Sequence); err != nil {
		return storeError(err, "lift sequence for %s", result.QuoteID)
	}
	if err := tx.Commit(); err != nil {
		return storeError(err, "commit layout for %s", result.QuoteID)
	}
	return nil
}

// NextSequence increments the per-quote counter with LAST_INSERT_ID so the
// new value comes back without a second round trip.
func (s *MySQLStore) NextSequence(ctx context.Context, quoteID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, allocSequence, quoteID)
	if err != nil {
		return 0, storeError(err, "allocate sequence for %s", quoteID)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, storeError(err, "allocate sequence for %s", quoteID)
	}
	return seq, nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
