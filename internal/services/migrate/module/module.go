// Package module wires the migration driver from shared deps and env config
package module

import (
	"fourkeys/internal/adapters/ingest/gitlab"
	"fourkeys/internal/core/commitgraph"
	"fourkeys/internal/core/events"
	"fourkeys/internal/modkit"
	"fourkeys/internal/modkit/repokit"
	"fourkeys/internal/platform/config"
	"fourkeys/internal/platform/logger"
	"fourkeys/internal/services/migrate/cache"
	"fourkeys/internal/services/migrate/domain"
	"fourkeys/internal/services/migrate/guardrails"
	"fourkeys/internal/services/migrate/repo"
	"fourkeys/internal/services/migrate/service"
	"fourkeys/internal/services/migrate/sink"

	"github.com/google/uuid"
)

// Ports defines the migrate module ports
type Ports struct {
	Runner domain.RunnerPort
}

// Module implements the migrate module
type Module struct {
	name  string
	opts  Options
	ports Ports
}

var _ modkit.Module = (*Module)(nil)

// New constructs the migrate module from deps.Cfg.
// tweak, when set, adjusts the env derived options (command line overrides).
// The ledger and leases are wired only when deps carries postgres.
func New(deps modkit.Deps, tweak func(*Options), mopts ...modkit.Option) *Module {
	b := modkit.Build(modkit.Built{Name: "migrate", EnvPrefix: "CORE_MIGRATE_"}, mopts...)
	opts := FromConfig(deps.Cfg.Prefix(b.EnvPrefix))
	if tweak != nil {
		tweak(&opts)
	}

	table, err := sink.ParseTableRef(opts.Table)
	if err != nil {
		panic(err)
	}

	log := logger.Named(b.Name)
	client := gitlab.NewClient(GitLabFromConfig(config.New().Prefix("SERVICE_GITLAB_")))
	projects := cache.New(client, cache.WithFetchTimeout(opts.FetchTimeout))
	walker := commitgraph.New(client)
	xform := events.NewTransformer(projects, walker, client)
	writer := sink.NewWriter(deps.CH, table)

	var (
		db     repokit.TxRunner
		binder repokit.Binder[domain.LedgerRepo]
		lease  guardrails.LeaseFunc
	)
	if deps.HasLedger() {
		// ledger transactions give up on lock waits after 2s
		db = repokit.WithBeginHooks(deps.PG,
			repokit.SetLocal("lock_timeout", "'2s'"),
			repokit.SetLocal("statement_timeout", "'15s'"),
		)
		binder = repo.NewPG()
		if opts.EnableLeases {
			lease = guardrails.MakeProjectLease(db, uuid.NewString(), opts.LeaseTTL)
		}
	} else if opts.SkipDone || opts.EnableLeases {
		log.Warn().Msg("skip-done and leases need SERVICE_PGSQL_URL; ignoring")
	}

	svc := service.New(client, xform, writer, service.Config{
		Window:        opts.Window,
		Environments:  opts.Environments,
		Exclude:       opts.Exclude,
		SkipExisting:  opts.SkipExisting,
		SkipDone:      opts.SkipDone,
		Workers:       opts.Workers,
		BatchSize:     opts.BatchSize,
		ProgressEvery: 10,
		MaxRetries:    opts.MaxRetries,
		RetryBase:     opts.RetryBase,
		Timeouts: guardrails.Timeouts{
			Project: opts.ProjectTimeout,
			Fetch:   opts.FetchTimeout,
			DB:      opts.DBTimeout,
		},
		EnableLeases: lease != nil,
	}, db, binder, lease)

	log.Info().
		Time("min_date", opts.Window.Min).
		Time("max_date", opts.Window.Max).
		Str("table", table.String()).
		Strs("environments", opts.Environments).
		Int("workers", opts.Workers).
		Bool("ledger", db != nil).
		Msg("migrate module ready")

	return &Module{name: b.Name, opts: opts, ports: Ports{Runner: svc}}
}

// Name returns the module name
func (m *Module) Name() string { return m.name }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Options returns the resolved options
func (m *Module) Options() Options { return m.opts }
