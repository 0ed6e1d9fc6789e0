package modkit

import (
	"fourkeys/internal/modkit/repokit"
	"fourkeys/internal/platform/config"
	"fourkeys/internal/platform/logger"
	"fourkeys/internal/platform/store"
)

// Deps holds core dependencies passed to modules
// PG is nil when the migration ledger is disabled
type Deps struct {
	Log logger.Logger
	Cfg config.Conf
	PG  repokit.TxRunner
	CH  store.Clickhouse
}

// HasLedger reports whether a postgres ledger is wired
func (d Deps) HasLedger() bool { return d.PG != nil }
