package domain

import (
	"context"

	"fourkeys/internal/core/events"
)

// RunnerPort is the public port exposed by the module
type RunnerPort interface {
	RunProject(ctx context.Context, projectID int64) (Summary, error)
	RunAll(ctx context.Context, projects []ProjectRef) (Summary, error)
	ImportIncidents(ctx context.Context, incidents []Incident) (Summary, error)
}

// Host is the part of the source host the driver lists from
type Host interface {
	Project(ctx context.Context, id int64) (Project, error)
	ProjectEvents(ctx context.Context, projectID int64, q EventsQuery) ([]PushEvent, error)
	Deployments(ctx context.Context, projectID int64) ([]Deployment, error)
}

// Transformer builds canonical events
type Transformer interface {
	TransformPush(ctx context.Context, project Project, e PushEvent) (CanonicalEvent, error)
	TransformDeployment(ctx context.Context, d Deployment) (CanonicalEvent, error)
	TransformIncident(i Incident) (CanonicalEvent, error)
}

// InsertResult reports what a single bulk insert did
type InsertResult struct {
	Sent     int
	Rejected []RowError
}

// RowError is one row the sink refused
type RowError struct {
	Index int    `json:"index"`
	Key   string `json:"key"`
	Err   string `json:"error"`
}

// Sink writes canonical events
type Sink interface {
	Insert(ctx context.Context, evs ...CanonicalEvent) (InsertResult, error)
	Exists(ctx context.Context, eventType events.EventType, id string) (bool, error)
}

// LedgerRepo persists per project progress
type LedgerRepo interface {
	// StartProject marks a project running for runID
	StartProject(ctx context.Context, projectID int64, runID string) error

	// FinishProject records the outcome of a project
	FinishProject(ctx context.Context, projectID int64, fin ProjectFinish) error

	// Done reports whether the project last finished ok
	Done(ctx context.Context, projectID int64) (bool, error)

	// ListDone returns every project id that finished ok
	ListDone(ctx context.Context) ([]int64, error)

	// Get returns the ledger row for a project
	Get(ctx context.Context, projectID int64) (ProjectRun, error)
}
