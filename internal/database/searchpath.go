package database

import (
	"strings"

	"github.com/koustreak/dbfill/internal/errs"
)

// searchPathDirective is the only libpq options directive the resolver
// understands, compared with all spaces removed.
const searchPathDirective = "-csearch_path="

// illegalPathChars are rejected in any search path entry, whatever its origin.
var illegalPathChars = []string{"'", ";", ","}

// SearchPathRequest describes what the caller asked for. Schema is the
// explicit schema to work in; Additional is appended after the base path.
// A nil Additional means "not requested", an empty one means "nothing extra".
type SearchPathRequest struct {
	Schema     string
	Additional []string
}

// Requested reports whether any search path work is needed at all.
func (r SearchPathRequest) Requested() bool {
	return r.Schema != "" || r.Additional != nil
}

// Validate runs the identifier guard on every caller-supplied name. It is
// called before any connection is attempted.
func (r SearchPathRequest) Validate() error {
	if r.Schema != "" {
		if err := CheckSQLNameSafe(r.Schema); err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "invalid db_schema", err)
		}
	}
	for _, s := range r.Additional {
		if err := CheckSQLNameSafe(s); err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "invalid additional_searchpath entry", err)
		}
	}
	return nil
}

// ParseSearchPathOption extracts the schema list from a libpq options string
// of the form "-c search_path=a,b". Any other directive is a configuration
// error.
func ParseSearchPathOption(options string) ([]string, error) {
	compact := strings.ReplaceAll(options, " ", "")
	if !strings.HasPrefix(compact, searchPathDirective) {
		return nil, errs.Newf(errs.ErrKindInvalidInput,
			"postgres connection options with unsupported format (only search_path is supported): %q", options)
	}
	value := strings.TrimPrefix(compact, searchPathDirective)
	if value == "" {
		return nil, nil
	}
	return strings.Split(value, ","), nil
}

// SplitSearchPath splits the value of current_setting('search_path') or of
// pg_settings.boot_val, e.g. `"$user", public`.
func SplitSearchPath(setting string) []string {
	var out []string
	for _, s := range strings.Split(setting, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// MergeSearchPath builds the final ordered path: the explicit schema first,
// then base (from options or the server default), then additional. Double
// quotes are stripped, entries holding ', ; or , are rejected and duplicates
// are dropped keeping the first occurrence.
func MergeSearchPath(schema string, base, additional []string) ([]string, error) {
	var all []string
	if schema != "" {
		all = append(all, schema)
	}
	all = append(all, base...)
	all = append(all, additional...)

	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, s := range all {
		s = strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
		if s == "" {
			continue
		}
		for _, c := range illegalPathChars {
			if strings.Contains(s, c) {
				return nil, errs.Newf(errs.ErrKindInvalidInput, "schema %q contains illegal char: %s", s, c)
			}
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// FormatSearchPath renders path as a search_path value with every entry
// quoted, e.g. `"myschema","$user","public"`.
func FormatSearchPath(path []string) string {
	quoted := make([]string, len(path))
	for i, s := range path {
		quoted[i] = QuoteIdent(s)
	}
	return strings.Join(quoted, ",")
}
