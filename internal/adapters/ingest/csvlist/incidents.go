package csvlist

import (
	"io"
	"strconv"
	"time"

	"fourkeys/internal/core/events"
	perr "fourkeys/internal/platform/errors"
)

// IncidentLabel is stamped on every imported incident
const IncidentLabel = "Incident"

var incidentColumns = []string{"id", "created_at", "updated_at", "closed_at", "title", "description"}

// timeLayouts covers RFC 3339 and the layouts issue exports commonly use
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ReadIncidents reads an incident export. Each incident is labelled Incident
// and its description is the title followed by the description.
// An empty closed_at yields an open incident.
func ReadIncidents(r io.Reader) ([]events.Incident, error) {
	var out []events.Incident
	err := readRecords(r, incidentColumns, func(rec record) error {
		id, err := strconv.ParseInt(rec.get("id"), 10, 64)
		if err != nil || id <= 0 {
			return perr.WithField(perr.InvalidArgf("csv line %d: bad id %q", rec.line, rec.get("id")), "id")
		}
		created, err := parseTime(rec, "created_at")
		if err != nil {
			return err
		}
		updated, err := parseTime(rec, "updated_at")
		if err != nil {
			return err
		}
		in := events.Incident{
			ID:          id,
			CreatedAt:   events.At(created),
			UpdatedAt:   events.At(updated),
			Labels:      []events.Label{{Title: IncidentLabel}},
			Description: rec.fields["title"] + " " + rec.fields["description"],
		}
		if rec.get("closed_at") != "" {
			closed, err := parseTime(rec, "closed_at")
			if err != nil {
				return err
			}
			ts := events.At(closed)
			in.ClosedAt = &ts
		}
		out = append(out, in)
		return nil
	})
	return out, err
}

func parseTime(rec record, col string) (time.Time, error) {
	s := rec.get(col)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, perr.WithField(perr.InvalidArgf("csv line %d: bad %s %q", rec.line, col, s), col)
}
