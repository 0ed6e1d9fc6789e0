// Package domain holds the types and ports of the bulk migration
package domain

import (
	"time"

	"fourkeys/internal/adapters/ingest/csvlist"
	"fourkeys/internal/adapters/ingest/gitlab"
	"fourkeys/internal/core/events"
)

// Host shapes re-exported for the driver and its fakes
type (
	Project    = gitlab.Project
	PushEvent  = gitlab.Event
	Deployment = gitlab.Deployment
	Commit     = gitlab.Commit
	Diff       = gitlab.Diff
)

// Incident is a caller supplied incident record
type Incident = events.Incident

// CanonicalEvent is one sink row
type CanonicalEvent = events.CanonicalEvent

// ProjectRef is one entry of the project list
type ProjectRef = csvlist.ProjectRef

// Window is an inclusive UTC time range; a zero bound is open
type Window struct {
	Min time.Time
	Max time.Time
}

// Contains reports whether t falls within the window, bounds included
func (w Window) Contains(t time.Time) bool {
	if !w.Min.IsZero() && t.Before(w.Min) {
		return false
	}
	if !w.Max.IsZero() && t.After(w.Max) {
		return false
	}
	return true
}

// Ledger statuses
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusError   = "error"
)

// ProjectFinish is the ledger row written when a project completes
type ProjectFinish struct {
	Status      string
	Found       int
	Pushes      int
	Deployments int
	Skipped     int
	Rejected    int
	ElapsedMS   int
	ErrText     string
}

// ProjectRun is a ledger row as read back
type ProjectRun struct {
	ProjectID   int64
	RunID       string
	Status      string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Found       int
	Pushes      int
	Deployments int
	Skipped     int
	Rejected    int
	ErrText     string
}

// Summary totals one driver call
type Summary struct {
	Projects    int
	Pushes      int
	Deployments int
	Incidents   int
	Skipped     int
	Rejected    int
	Failed      int
}

// Add folds o into s
func (s *Summary) Add(o Summary) {
	s.Projects += o.Projects
	s.Pushes += o.Pushes
	s.Deployments += o.Deployments
	s.Incidents += o.Incidents
	s.Skipped += o.Skipped
	s.Rejected += o.Rejected
	s.Failed += o.Failed
}

// EventsQuery narrows the host event listing
type EventsQuery = gitlab.EventsQuery
