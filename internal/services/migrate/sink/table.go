package sink

import (
	"regexp"
	"strings"

	perr "fourkeys/internal/platform/errors"
)

var (
	identRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	projectRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
)

// TableRef names the sink table as project.dataset.table or dataset.table.
// The project part is kept for logs; ClickHouse addresses dataset.table.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// ParseTableRef parses and validates a table reference
func ParseTableRef(s string) (TableRef, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	var t TableRef
	switch len(parts) {
	case 2:
		t = TableRef{Dataset: parts[0], Table: parts[1]}
	case 3:
		t = TableRef{Project: parts[0], Dataset: parts[1], Table: parts[2]}
	default:
		return TableRef{}, perr.WithField(perr.InvalidArgf("table ref %q must be dataset.table or project.dataset.table", s), "table")
	}
	if t.Project != "" && !projectRe.MatchString(t.Project) {
		return TableRef{}, perr.WithField(perr.InvalidArgf("bad project in table ref %q", s), "table")
	}
	if !identRe.MatchString(t.Dataset) || !identRe.MatchString(t.Table) {
		return TableRef{}, perr.WithField(perr.InvalidArgf("bad identifier in table ref %q", s), "table")
	}
	return t, nil
}

// Qualified is the quoted dataset.table used in statements
func (t TableRef) Qualified() string {
	return "`" + t.Dataset + "`.`" + t.Table + "`"
}

// String renders the reference as given
func (t TableRef) String() string {
	if t.Project == "" {
		return t.Dataset + "." + t.Table
	}
	return t.Project + "." + t.Dataset + "." + t.Table
}
