package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"fourkeys/internal/adapters/ingest/csvlist"
	"fourkeys/internal/core/version"
	"fourkeys/internal/modkit"
	mk "fourkeys/internal/modkit/module"
	"fourkeys/internal/modkit/repokit"
	"fourkeys/internal/platform/config"
	perr "fourkeys/internal/platform/errors"
	"fourkeys/internal/platform/logger"
	"fourkeys/internal/platform/store"
	"fourkeys/internal/services/migrate/domain"
	migratemod "fourkeys/internal/services/migrate/module"
	"fourkeys/internal/services/migrate/repo"
)

const appName = version.Service

// App builds the command line
func App() *cli.App {
	return &cli.App{
		Name:    appName,
		Version: version.Info().Version,
		Usage:   "Backfill GitLab pushes, deployments and incidents into the four keys events table",
		Commands: []*cli.Command{
			projectCmd(),
			allCmd(),
			incidentsCmd(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "min-date", Usage: "keep records at or after this time (RFC3339 or YYYY-MM-DD), overrides CORE_MIGRATE_MIN_DATE"},
			&cli.StringFlag{Name: "max-date", Usage: "keep records at or before this time, overrides CORE_MIGRATE_MAX_DATE"},
			&cli.StringSliceFlag{Name: "env", Usage: "deployment environment to keep, repeatable; default keeps all"},
			&cli.Int64SliceFlag{Name: "exclude", Usage: "project id to skip, repeatable"},
			&cli.IntFlag{Name: "workers", Usage: "projects migrated in parallel"},
			&cli.IntFlag{Name: "batch-size", Usage: "events per insert"},
			&cli.BoolFlag{Name: "skip-done", Usage: "skip projects the ledger marks finished (needs SERVICE_PGSQL_URL)"},
			&cli.BoolFlag{Name: "skip-existing", Usage: "skip deployments already present in the events table"},
			&cli.BoolFlag{Name: "migrate-ledger", Value: true, Usage: "apply ledger schema migrations at startup"},
		},
	}
}

func projectCmd() *cli.Command {
	return &cli.Command{
		Name:      "project",
		Usage:     "migrate a single project",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "id", Required: true, Usage: "GitLab project id"},
		},
		Action: func(c *cli.Context) error {
			return withRunner(c, func(ctx context.Context, r domain.RunnerPort) (domain.Summary, error) {
				return r.RunProject(ctx, c.Int64("id"))
			})
		},
	}
}

func allCmd() *cli.Command {
	return &cli.Command{
		Name:  "all",
		Usage: "migrate every project listed in a CSV of project_id,project_name",
		Flags: []cli.Flag{
			&cli.PathFlag{Name: "csv", Value: "repos.csv", Usage: "project list"},
		},
		Action: func(c *cli.Context) error {
			f, err := os.Open(c.Path("csv"))
			if err != nil {
				return perr.WithField(perr.Wrap(err, perr.ErrorCodeInvalidArgument, "open project list"), "csv")
			}
			refs, err := csvlist.ReadProjects(f)
			_ = f.Close()
			if err != nil {
				return err
			}
			return withRunner(c, func(ctx context.Context, r domain.RunnerPort) (domain.Summary, error) {
				return r.RunAll(ctx, refs)
			})
		},
	}
}

func incidentsCmd() *cli.Command {
	return &cli.Command{
		Name:  "incidents",
		Usage: "import incidents from a CSV export",
		Flags: []cli.Flag{
			&cli.PathFlag{Name: "csv", Value: "firelane_issues.csv", Usage: "incident export"},
		},
		Action: func(c *cli.Context) error {
			f, err := os.Open(c.Path("csv"))
			if err != nil {
				return perr.WithField(perr.Wrap(err, perr.ErrorCodeInvalidArgument, "open incident export"), "csv")
			}
			incs, err := csvlist.ReadIncidents(f)
			_ = f.Close()
			if err != nil {
				return err
			}
			return withRunner(c, func(ctx context.Context, r domain.RunnerPort) (domain.Summary, error) {
				return r.ImportIncidents(ctx, incs)
			})
		},
	}
}

// withRunner opens the stores, wires the module and runs fn
func withRunner(c *cli.Context, fn func(context.Context, domain.RunnerPort) (domain.Summary, error)) error {
	ctx := c.Context
	log := logger.Get()

	tweak, err := overrides(c)
	if err != nil {
		return err
	}

	scfg := store.ConfigFromEnv(appName)
	if scfg.PG.Enabled && c.Bool("migrate-ledger") {
		if err := repo.Migrate(scfg.PG.URL); err != nil {
			return err
		}
	}
	st, err := store.Open(ctx, scfg, store.WithLogger(*logger.Named("store")))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("close store failed")
		}
	}()
	repokit.MustGuard(ctx, st)

	m := migratemod.New(modkit.Deps{Log: *log, Cfg: config.New(), PG: st.PG, CH: st.CH}, tweak)
	runner := mk.MustPortsOf[domain.RunnerPort](m)

	start := time.Now()
	sum, err := fn(ctx, runner)
	log.Info().
		Str("command", c.Command.Name).
		Int("projects", sum.Projects).
		Int("pushes", sum.Pushes).
		Int("deployments", sum.Deployments).
		Int("incidents", sum.Incidents).
		Int("skipped", sum.Skipped).
		Int("rejected", sum.Rejected).
		Int("failed", sum.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("done")
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		return cli.Exit("some projects failed, see log", 2)
	}
	return nil
}

// overrides turns the global flags into an options tweak
func overrides(c *cli.Context) (func(*migratemod.Options), error) {
	var minDate, maxDate time.Time
	var err error
	if c.IsSet("min-date") {
		if minDate, err = parseBound(c.String("min-date")); err != nil {
			return nil, perr.WithField(err, "min-date")
		}
	}
	if c.IsSet("max-date") {
		if maxDate, err = parseBound(c.String("max-date")); err != nil {
			return nil, perr.WithField(err, "max-date")
		}
	}

	return func(o *migratemod.Options) {
		if c.IsSet("min-date") {
			o.Window.Min = minDate
		}
		if c.IsSet("max-date") {
			o.Window.Max = maxDate
		}
		if c.IsSet("env") {
			o.Environments = c.StringSlice("env")
		}
		if c.IsSet("exclude") {
			o.Exclude = c.Int64Slice("exclude")
		}
		if c.IsSet("workers") {
			o.Workers = c.Int("workers")
		}
		if c.IsSet("batch-size") {
			o.BatchSize = c.Int("batch-size")
		}
		if c.IsSet("skip-done") {
			o.SkipDone = c.Bool("skip-done")
		}
		if c.IsSet("skip-existing") {
			o.SkipExisting = c.Bool("skip-existing")
		}
	}, nil
}

// parseBound accepts RFC3339 with optional fraction, or a bare date, and returns UTC
func parseBound(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, perr.InvalidArgf("bad time %q, want RFC3339 or YYYY-MM-DD", s)
}
