// Package guardrails holds cross cutting safety helpers for the migration driver
package guardrails

import (
	"context"
	"errors"
	"time"

	"fourkeys/internal/modkit/repokit"
	perr "fourkeys/internal/platform/errors"
	"fourkeys/internal/platform/logger"
)

// ErrLeaseHeld signals another runner is migrating the project
var ErrLeaseHeld = errors.New("migrate: project lease already held")

// neverExpires stands in for a zero ttl
const neverExpires = 100 * 365 * 24 * time.Hour

// LeaseFunc runs do while holding the project's lease
type LeaseFunc func(ctx context.Context, projectID int64, do func(context.Context) error) error

// MakeProjectLease returns a LeaseFunc backed by migrated_project_leases.
// A lease older than ttl is taken over; ttl <= 0 means leases never go stale.
// The lease is released when do returns, whatever the outcome.
func MakeProjectLease(db repokit.TxRunner, runID string, ttl time.Duration) LeaseFunc {
	if ttl <= 0 {
		ttl = neverExpires
	}
	return func(ctx context.Context, projectID int64, do func(context.Context) error) error {
		var claimed bool
		err := db.Tx(ctx, func(q repokit.Queryer) error {
			rows, err := q.Query(ctx, `
				INSERT INTO migrated_project_leases (project_id, run_id, claimed_at)
				VALUES ($1, $2::uuid, now())
				ON CONFLICT (project_id) DO UPDATE
				SET run_id = EXCLUDED.run_id, claimed_at = now()
				WHERE migrated_project_leases.claimed_at < now() - $3::interval
				RETURNING true
			`, projectID, runID, ttl)
			if err != nil {
				return err
			}
			defer rows.Close()
			claimed = rows.Next()
			return rows.Err()
		})
		if err != nil {
			return perr.FromPostgresf(err, "claim lease for project %d", projectID)
		}
		if !claimed {
			return ErrLeaseHeld
		}

		defer func() {
			// release even when ctx was cancelled mid project
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if _, err := db.Exec(rctx, `
				DELETE FROM migrated_project_leases WHERE project_id = $1 AND run_id = $2::uuid
			`, projectID, runID); err != nil {
				logger.C(ctx).Warn().Err(err).Int64("project_id", projectID).Msg("release project lease failed")
			}
		}()
		return do(ctx)
	}
}
