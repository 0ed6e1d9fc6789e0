//go:build integration_pg
// +build integration_pg

package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	perr "fourkeys/internal/platform/errors"
	"fourkeys/internal/platform/store"
	"fourkeys/internal/services/migrate/domain"
	"fourkeys/internal/services/migrate/guardrails"
)

func startLedger(t *testing.T) (*store.Store, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgc, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("fourkeys"),
		postgres.WithUsername("fourkeys"),
		postgres.WithPassword("fourkeys"),
		testcontainers.WithWaitStrategy(wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(90*time.Second)),
	)
	testcontainers.CleanupContainer(t, pgc)
	require.NoError(t, err)

	dsn, err := pgc.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(dsn))
	require.NoError(t, Migrate(dsn), "second run must be a no-op")

	st, err := store.Open(ctx, store.Config{
		AppName: "fourkeys-migrate-test",
		PG:      store.PGConfig{Enabled: true, URL: dsn, MaxConns: 2},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return st, dsn
}

func TestLedgerLifecycle(t *testing.T) {
	st, _ := startLedger(t)
	ctx := context.Background()
	r := NewPG().Bind(st.PG)
	run := uuid.NewString()

	done, err := r.Done(ctx, 11)
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, r.StartProject(ctx, 11, run))
	require.NoError(t, r.StartProject(ctx, 12, run))

	pr, err := r.Get(ctx, 11)
	require.NoError(t, err)
	require.Equal(t, domain.StatusRunning, pr.Status)
	require.Equal(t, run, pr.RunID)
	require.Nil(t, pr.FinishedAt)

	require.NoError(t, r.FinishProject(ctx, 11, domain.ProjectFinish{Status: domain.StatusOK, Found: 4, Pushes: 3, Deployments: 1}))
	require.NoError(t, r.FinishProject(ctx, 12, domain.ProjectFinish{Status: domain.StatusError, ErrText: "boom"}))

	pr, err = r.Get(ctx, 12)
	require.NoError(t, err)
	require.Equal(t, "boom", pr.ErrText)
	require.NotNil(t, pr.FinishedAt)

	ids, err := r.ListDone(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{11}, ids)

	// restarting clears the previous outcome
	require.NoError(t, r.StartProject(ctx, 11, uuid.NewString()))
	done, err = r.Done(ctx, 11)
	require.NoError(t, err)
	require.False(t, done)

	err = r.FinishProject(ctx, 99, domain.ProjectFinish{Status: domain.StatusOK})
	require.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
	_, err = r.Get(ctx, 99)
	require.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
}

func TestProjectLeaseExclusive(t *testing.T) {
	st, _ := startLedger(t)
	ctx := context.Background()

	first := guardrails.MakeProjectLease(st.PG, uuid.NewString(), time.Hour)
	second := guardrails.MakeProjectLease(st.PG, uuid.NewString(), time.Hour)

	err := first(ctx, 5, func(ctx context.Context) error {
		return second(ctx, 5, func(context.Context) error {
			t.Fatalf("second runner must not get the lease")
			return nil
		})
	})
	require.ErrorIs(t, err, guardrails.ErrLeaseHeld)

	// released after first returned
	ran := false
	require.NoError(t, second(ctx, 5, func(context.Context) error { ran = true; return nil }))
	require.True(t, ran)
}
