package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id  TEXT PRIMARY KEY,
	doc TEXT NOT NULL
)`

// SQLiteStore is a UserStore backed by a SQLite database, one JSON
// document per user. Updates are read-modify-write inside a transaction
// so concurrent writers to different fields do not clobber each other.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// users table exists. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if _, err := db.Exec(createUsersTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create users table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get retrieves the record for id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (UserRecord, error) {
	if id == "" {
		return nil, errors.New("id cannot be empty")
	}

	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM users WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user %s: %w", id, err)
	}

	return decodeRecord(id, doc)
}

// Update applies the dot-path writes to the record for id, creating the
// record if it does not exist, and returns the merged result.
func (s *SQLiteStore) Update(ctx context.Context, id string, fields map[string]any) (UserRecord, error) {
	if id == "" {
		return nil, errors.New("id cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update for user %s: %w", id, err)
	}
	defer tx.Rollback()

	record := UserRecord{"id": id}

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM users WHERE id = ?`, id).Scan(&doc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first write creates the record
	case err != nil:
		return nil, fmt.Errorf("query user %s: %w", id, err)
	default:
		record, err = decodeRecord(id, doc)
		if err != nil {
			return nil, err
		}
	}

	for path, value := range fields {
		Assign(record, path, value)
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode user %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, doc) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET doc = excluded.doc`,
		id, string(encoded))
	if err != nil {
		return nil, fmt.Errorf("write user %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update for user %s: %w", id, err)
	}

	return record, nil
}

func decodeRecord(id, doc string) (UserRecord, error) {
	var record UserRecord
	if err := json.Unmarshal([]byte(doc), &record); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	if record == nil {
		record = UserRecord{}
	}
	record["id"] = id
	return record, nil
}
