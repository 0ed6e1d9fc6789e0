// Package repo provides postgres access for the migration ledger
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fourkeys/internal/modkit/repokit"
	perr "fourkeys/internal/platform/errors"
	"fourkeys/internal/platform/store"
	"fourkeys/internal/services/migrate/domain"
)

type (
	// PG is a Postgres binder for domain.LedgerRepo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a Postgres binder for domain.LedgerRepo
func NewPG() repokit.Binder[domain.LedgerRepo] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) domain.LedgerRepo { return &queries{q: q} }

// StartProject marks a project running (idempotent)
func (r *queries) StartProject(ctx context.Context, projectID int64, runID string) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO migrated_projects (project_id, run_id, status, started_at)
		VALUES ($1, $2::uuid, 'running', now())
		ON CONFLICT (project_id) DO UPDATE
		SET run_id = EXCLUDED.run_id, status = 'running', started_at = now(),
			finished_at = null, error = null
	`, projectID, runID)
	return ledgerErr(err, "start project %d", projectID)
}

// FinishProject records the outcome of a project
func (r *queries) FinishProject(ctx context.Context, projectID int64, fin domain.ProjectFinish) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE migrated_projects SET
			finished_at = now(),
			status = $2,
			found = $3,
			pushes = $4,
			deployments = $5,
			skipped = $6,
			rejected = $7,
			elapsed_ms = $8,
			error = NULLIF($9, '')
		WHERE project_id = $1
	`,
		projectID, fin.Status, fin.Found, fin.Pushes, fin.Deployments,
		fin.Skipped, fin.Rejected, fin.ElapsedMS, fin.ErrText,
	)
	if err != nil {
		return ledgerErr(err, "finish project %d", projectID)
	}
	if tag.RowsAffected() == 0 {
		return perr.NotFoundf("project %d was never started", projectID)
	}
	return nil
}

// Done reports whether the project last finished ok
func (r *queries) Done(ctx context.Context, projectID int64) (bool, error) {
	ok, err := store.Scalar[bool](ctx, r.q, `
		SELECT EXISTS (SELECT 1 FROM migrated_projects WHERE project_id = $1 AND status = 'ok')
	`, projectID)
	return ok, ledgerErr(err, "done project %d", projectID)
}

// ListDone returns every project id that finished ok, ascending
func (r *queries) ListDone(ctx context.Context) ([]int64, error) {
	ids, err := store.Many(ctx, r.q, func(row store.Row) (int64, error) {
		var id int64
		err := row.Scan(&id)
		return id, err
	}, `SELECT project_id FROM migrated_projects WHERE status = 'ok' ORDER BY project_id`)
	return ids, ledgerErr(err, "list done projects")
}

// Get returns the ledger row for a project
func (r *queries) Get(ctx context.Context, projectID int64) (domain.ProjectRun, error) {
	var (
		pr       domain.ProjectRun
		finished *time.Time
		errText  *string
	)
	err := r.q.QueryRow(ctx, `
		SELECT project_id, run_id::text, status, started_at, finished_at,
			found, pushes, deployments, skipped, rejected, error
		FROM migrated_projects WHERE project_id = $1
	`, projectID).Scan(
		&pr.ProjectID, &pr.RunID, &pr.Status, &pr.StartedAt, &finished,
		&pr.Found, &pr.Pushes, &pr.Deployments, &pr.Skipped, &pr.Rejected, &errText,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ProjectRun{}, perr.NotFoundf("project %d not in ledger", projectID)
	}
	if err != nil {
		return domain.ProjectRun{}, ledgerErr(err, "get project %d", projectID)
	}
	pr.FinishedAt = finished
	if errText != nil {
		pr.ErrText = *errText
	}
	return pr, nil
}

// ledgerErr maps a pg error; a missing schema names the step that creates it
func ledgerErr(err error, format string, a ...any) error {
	if perr.IsUndefinedTable(err) {
		return perr.Wrapf(err, perr.ErrorCodeDB, "%s: ledger tables missing, run with --migrate-ledger", fmt.Sprintf(format, a...))
	}
	return perr.FromPostgresf(err, format, a...)
}
