// Package store persists conversations and FAQ entries in PostgreSQL. Each
// conversation is a single document row with its message list in a jsonb
// column, mirroring the document-store layout it replaces.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a referenced document does not exist.
var ErrNotFound = errors.New("store: not found")

// StoreError is a persistence transport failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         UUID PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	preview    TEXT NOT NULL DEFAULT '',
	model      TEXT NOT NULL DEFAULT '',
	messages   JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations (owner_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS faqs (
	id         UUID PRIMARY KEY,
	question   TEXT NOT NULL,
	answer     TEXT NOT NULL,
	tags       JSONB NOT NULL DEFAULT '[]',
	category   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return &StoreError{Op: "migrate", Err: err}
	}
	return nil
}
