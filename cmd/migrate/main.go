// Command migrate manages the schema of the SQL users store with the
// migrations embedded in package migrations.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/viper"

	"github.com/Skryldev/entity-registry/config"
	"github.com/Skryldev/entity-registry/migrations"
)

func main() {
	configFile := flag.String("config", "", "config file (yaml, json or toml)")
	verbose := flag.Bool("v", false, "verbose migrate output")
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(viper.New(), *configFile)
	if err != nil {
		fatalf(logger, "config: %v", err)
	}
	if cfg.Database.DSN == "" {
		fatalf(logger, "REGISTRY_DATABASE_DSN (database.dsn) is required")
	}

	m, err := migrations.New(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		fatalf(logger, "migration init failed: %v", err)
	}
	defer m.Close()
	m.Log = migrations.NewLogger(logger, *verbose)

	if err := run(m, args, logger); err != nil {
		fatalf(logger, "%s failed: %v", args[0], err)
	}
}

func run(m *migrate.Migrate, args []string, logger *slog.Logger) error {
	switch args[0] {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		logger.Info("migrations: up completed")

	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid steps argument %q", args[1])
			}
			steps = n
		}
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		logger.Info("migrations: down completed", "steps", steps)

	case "version":
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return err
		}
		fmt.Printf("version: %d  dirty: %v\n", v, dirty)

	case "force":
		if len(args) < 2 {
			return errors.New("version argument required")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[1])
		}
		if err := m.Force(v); err != nil {
			return err
		}
		logger.Info("migrations: forced", "version", v)

	case "drop":
		fmt.Fprintln(os.Stderr, "WARNING: drop will destroy all tables. Type 'yes' to confirm:")
		confirm, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.TrimSpace(confirm) != "yes" {
			fmt.Println("aborted")
			return nil
		}
		if err := m.Drop(); err != nil {
			return err
		}
		logger.Info("migrations: all tables dropped")

	default:
		usage()
		os.Exit(1)
	}
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: migrate [-config file] [-v] <command> [args]

Commands:
  up           Apply all pending migrations
  down [N]     Rollback N migrations (default: 1)
  version      Print current migration version
  force <V>    Force set migration version (bypass dirty state)
  drop         Drop all tables (dev only)

Environment:
  REGISTRY_DATABASE_DRIVER  sqlite3 (default), postgres or mysql
  REGISTRY_DATABASE_DSN     Required. The DSN the server opens.`)
}

func fatalf(logger *slog.Logger, format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
