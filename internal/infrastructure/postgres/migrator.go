package postgres

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
)

// ErrDirtySchema is returned when a previous migration stopped halfway and
// the schema needs manual repair before the ledger may load from it.
var ErrDirtySchema = errors.New("ledger schema is dirty")

// Migrate brings the snapshot, change log and outbox tables up to the
// newest migration in dir and returns the resulting schema version.
func Migrate(databaseURL, dir string, logger zerolog.Logger) (uint, error) {
	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return 0, fmt.Errorf("failed to open migrations at %s: %w", dir, err)
	}
	defer m.Close()

	changed := true
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return 0, fmt.Errorf("failed to run migrations: %w", err)
		}
		changed = false
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}

	logger.Info().Uint("schema_version", version).Bool("changed", changed).Msg("ledger schema ready")
	return version, nil
}
