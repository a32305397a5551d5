package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Masterminds/squirrel"

	"battlelog/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

// ErrNotFound is the domain sentinel so callers can match either.
var ErrNotFound = domain.ErrNotFound

// querier is the part of *sql.DB and *sql.Tx the repo uses.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// builder uses ? placeholders for sqlite.
var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(err error, what error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return what
	}
	return err
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
