package repo

import (
	"embed"
	"errors"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"

	perr "fourkeys/internal/platform/errors"
	"fourkeys/internal/platform/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsTable keeps the ledger's schema version apart from other tools sharing the database
const MigrationsTable = "fourkeys_schema_migrations"

// Migrate brings the ledger schema at dbURL up to date
func Migrate(dbURL string) error {
	target, err := migrateURL(dbURL)
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnknown, "open embedded migrations")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "connect for migrations")
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Named("ledger").Warn().AnErr("source", srcErr).AnErr("db", dbErr).Msg("close migrator failed")
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return perr.Wrap(err, perr.ErrorCodeDB, "apply ledger migrations")
	}
	v, dirty, _ := m.Version()
	logger.Named("ledger").Info().Uint("version", v).Bool("dirty", dirty).Msg("ledger schema ready")
	return nil
}

// migrateURL rewrites a postgres url for the pgx5 migrate driver
func migrateURL(dbURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(dbURL))
	if err != nil || u.Host == "" {
		return "", perr.WithField(perr.InvalidArgf("bad postgres url"), "SERVICE_PGSQL_URL")
	}
	switch u.Scheme {
	case "postgres", "postgresql", "pgx5":
		u.Scheme = "pgx5"
	default:
		return "", perr.WithField(perr.InvalidArgf("unsupported postgres scheme %q", u.Scheme), "SERVICE_PGSQL_URL")
	}
	q := u.Query()
	if q.Get("x-migrations-table") == "" {
		q.Set("x-migrations-table", MigrationsTable)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
