package csvlist

import (
	"io"
	"strconv"

	perr "fourkeys/internal/platform/errors"
)

// ProjectRef is one row of the project list
type ProjectRef struct {
	ID   int64
	Name string
}

// ReadProjects reads a project_id,project_name list in file order.
// Extra columns are ignored.
func ReadProjects(r io.Reader) ([]ProjectRef, error) {
	var out []ProjectRef
	err := readRecords(r, []string{"project_id", "project_name"}, func(rec record) error {
		id, err := strconv.ParseInt(rec.get("project_id"), 10, 64)
		if err != nil || id <= 0 {
			return perr.WithField(perr.InvalidArgf("csv line %d: bad project_id %q", rec.line, rec.get("project_id")), "project_id")
		}
		out = append(out, ProjectRef{ID: id, Name: rec.get("project_name")})
		return nil
	})
	return out, err
}
