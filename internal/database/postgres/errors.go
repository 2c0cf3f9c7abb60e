package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koustreak/dbfill/internal/errs"
)

// PostgreSQL SQLSTATE error codes the resolver and container branch on.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrInvalidCatalogName    = "3D000" // database does not exist
	pgErrInvalidPassword       = "28P01"
	pgErrInvalidAuthorization  = "28000"
	pgErrInsufficientPrivilege = "42501"
	pgErrUndefinedTable        = "42P01"
)

// mapError translates pgx / pgconn native errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	// Context cancellation / deadline exceeded
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	// Postgres server-side error (SQLSTATE codes). pgconn.ConnectError wraps
	// the startup failure, errors.As reaches through it.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errs.Wrap(classifyCode(pgErr.Code), fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	var parseErr *pgconn.ParseConfigError
	if errors.As(err, &parseErr) {
		return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
	}

	// Fallthrough: connection-level errors (TLS, network)
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

// classifyCode maps a SQLSTATE to an ErrKind.
func classifyCode(code string) errs.ErrKind {
	switch code {
	case pgErrInvalidCatalogName:
		return errs.ErrKindDatabaseMissing
	case pgErrInvalidPassword, pgErrInvalidAuthorization, pgErrInsufficientPrivilege:
		return errs.ErrKindPermissionDenied
	case pgErrUndefinedTable:
		return errs.ErrKindNotFound
	}
	// Class 08: connection exceptions
	if strings.HasPrefix(code, "08") {
		return errs.ErrKindConnectionFailed
	}
	return errs.ErrKindQueryFailed
}
