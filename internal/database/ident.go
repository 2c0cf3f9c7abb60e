package database

import (
	"regexp"
	"strings"

	"github.com/koustreak/dbfill/internal/errs"
)

// safeName is the only shape an identifier may have before it is interpolated
// into SQL text. Identifiers cannot be parameterized, so every name that ends
// up in DDL goes through CheckSQLNameSafe first.
var safeName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// CheckSQLNameSafe returns an ErrKindInvalidInput error unless s consists only
// of ASCII letters, digits and underscores.
func CheckSQLNameSafe(s string) error {
	if !safeName.MatchString(s) {
		return errs.Newf(errs.ErrKindInvalidInput, "%q is not passing the check against SQL injection", s)
	}
	return nil
}

// QuoteIdent wraps a SQL identifier in double-quotes (ANSI standard).
// Callers still run CheckSQLNameSafe first; quoting only preserves case.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
