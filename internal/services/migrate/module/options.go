package module

import (
	"time"

	"fourkeys/internal/adapters/ingest/gitlab"
	"fourkeys/internal/core/version"
	"fourkeys/internal/platform/config"
	"fourkeys/internal/services/migrate/domain"
	"fourkeys/internal/services/migrate/sink"
)

// Options holds configuration for the migrate module
type Options struct {
	Window       domain.Window
	Environments []string
	Exclude      []int64
	Table        string
	BatchSize    int
	Workers      int
	SkipExisting bool
	SkipDone     bool

	MaxRetries     int
	RetryBase      time.Duration
	ProjectTimeout time.Duration
	FetchTimeout   time.Duration
	DBTimeout      time.Duration

	EnableLeases bool
	LeaseTTL     time.Duration
}

// FromConfig reads the migrate options under cfg, normally CORE_MIGRATE_
func FromConfig(cfg config.Conf) Options {
	return Options{
		Window: domain.Window{
			Min: cfg.MayTime("MIN_DATE", time.Time{}),
			Max: cfg.MayTime("MAX_DATE", time.Time{}),
		},
		Environments:   cfg.MayCSV("ENVIRONMENTS", nil),
		Exclude:        cfg.MayInt64s("EXCLUDE", nil),
		Table:          cfg.MayString("TABLE", "four_keys.events_raw"),
		BatchSize:      cfg.MayInt("BATCH_SIZE", sink.DefaultBatchSize),
		Workers:        cfg.MayInt("WORKERS", 1),
		SkipExisting:   cfg.MayBool("SKIP_EXISTING", false),
		SkipDone:       cfg.MayBool("SKIP_DONE", false),
		MaxRetries:     cfg.MayInt("RETRIES", 3),
		RetryBase:      cfg.MayDuration("RETRY_BASE", 500*time.Millisecond),
		ProjectTimeout: cfg.MayDuration("PROJECT_TIMEOUT", 0),
		FetchTimeout:   cfg.MayDuration("FETCH_TIMEOUT", 5*time.Minute),
		DBTimeout:      cfg.MayDuration("DB_TIMEOUT", 10*time.Second),
		EnableLeases:   cfg.MayBool("LEASES", false),
		LeaseTTL:       cfg.MayDuration("LEASE_TTL", 6*time.Hour),
	}
}

// GitLabFromConfig reads the host client options under cfg, normally SERVICE_GITLAB_
func GitLabFromConfig(cfg config.Conf) gitlab.Options {
	return gitlab.Options{
		BaseURL:    cfg.MustURL("URL").String(),
		Token:      cfg.MayString("TOKEN", ""),
		OAuth:      cfg.MayBool("OAUTH", false),
		UserAgent:  cfg.MayString("USER_AGENT", version.UserAgent()),
		Timeout:    cfg.MayDuration("TIMEOUT", 30*time.Second),
		MaxRetries: cfg.MayInt("RETRIES", 5),
		RetryBase:  cfg.MayDuration("RETRY_BASE", time.Second),
		PerPage:    cfg.MayInt("PER_PAGE", 100),
	}
}
