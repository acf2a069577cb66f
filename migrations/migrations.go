// Package migrations embeds the versioned schema of the registry, one
// directory per SQL dialect, and applies it with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/Skryldev/entity-registry/db"
)

//go:embed postgres/*.sql mysql/*.sql sqlite3/*.sql
var files embed.FS

// New returns a migrator for the dialect registered under driverName. dsn is
// the same DSN passed to db.Open; it is converted to the URL form the
// golang-migrate database driver expects.
func New(driverName, dsn string, logger *slog.Logger) (*migrate.Migrate, error) {
	drv, err := db.LookupDriver(driverName)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(files, drv.Name())
	if err != nil {
		return nil, fmt.Errorf("migrations: source %s: %w", drv.Name(), err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, drv.MigrationURL(dsn))
	if err != nil {
		return nil, fmt.Errorf("migrations: init: %w", err)
	}
	m.Log = NewLogger(logger, false)
	return m, nil
}

// Up applies every pending migration. An already current schema is not an
// error.
func Up(driverName, dsn string, logger *slog.Logger) error {
	m, err := New(driverName, dsn, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Logger
// ─────────────────────────────────────────────────────────────────────────────

// Logger adapts slog to migrate.Logger.
type Logger struct {
	logger  *slog.Logger
	verbose bool
}

// NewLogger returns a migrate.Logger writing through logger, or
// slog.Default() when logger is nil.
func NewLogger(logger *slog.Logger, verbose bool) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger, verbose: verbose}
}

func (l *Logger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...), "component", "migrate")
}

func (l *Logger) Verbose() bool { return l.verbose }

var _ migrate.Logger = (*Logger)(nil)
