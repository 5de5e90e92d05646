package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/grahmeen/health/internal/platform/apperr"
)

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Classify translates driver errors into the apperr taxonomy. what names the
// entity for the error message.
func Classify(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s %w", what, apperr.ErrNotFound)
	case IsUniqueViolation(err):
		return fmt.Errorf("%s %w", what, apperr.ErrConflict)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

func quoteIdent(s string) string {
	return pgx.Identifier{s}.Sanitize()
}
