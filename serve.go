package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Skryldev/entity-registry/api"
	"github.com/Skryldev/entity-registry/cascade"
	"github.com/Skryldev/entity-registry/config"
	"github.com/Skryldev/entity-registry/db"
	"github.com/Skryldev/entity-registry/metrics"
	"github.com/Skryldev/entity-registry/migrations"
	"github.com/Skryldev/entity-registry/models"
	"github.com/Skryldev/entity-registry/repo"
	"github.com/Skryldev/entity-registry/store"
)

// flagKeys maps serve flags onto configuration keys.
var flagKeys = map[string]string{
	"addr":              "http.addr",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"users-backend":     "users.backend",
	"customers-backend": "customers.backend",
	"database-driver":   "database.driver",
	"database-dsn":      "database.dsn",
	"redis-addr":        "redis.addr",
	"account-service":   "cascade.base_url",
	"min-age":           "validation.min_age",
}

func newServeCmd(v *viper.Viper, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, *configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, os.Stdout)
		},
	}

	f := cmd.Flags()
	f.String("addr", ":8000", "HTTP listen address")
	f.String("log-level", "info", "debug, info, warn or error")
	f.String("log-format", "json", "json or text")
	f.String("users-backend", config.BackendMemory, "users store: memory, sql or redis")
	f.String("customers-backend", config.BackendMemory, "customers store: memory or redis")
	f.String("database-driver", "sqlite3", "sql driver: sqlite3, postgres or mysql")
	f.String("database-dsn", "", "sql data source name")
	f.String("redis-addr", "localhost:6379", "redis address")
	f.String("account-service", "http://localhost:8001", "account service base URL; empty disables cascade deletes")
	f.Int("min-age", 18, "customers must be older than this")

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, f.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
	return cmd
}

// serve builds the stores and the router from cfg and runs the HTTP server
// until ctx is canceled.
func serve(ctx context.Context, cfg config.Config, out io.Writer) error {
	logger, err := newLogger(cfg.Log, out)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	m := metrics.New()
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}()

	var (
		database *db.DB
		rdb      *redis.Client
	)
	if cfg.Users.Backend == config.BackendSQL {
		database, err = openDatabase(cfg.Database, logger, m)
		if err != nil {
			return err
		}
		closers = append(closers, database)
		stats := database.Stats()
		logger.Info("database connected",
			"driver", cfg.Database.Driver,
			"open_connections", stats.OpenConnections,
			"max_open_connections", stats.MaxOpenConnections,
		)
	}
	if cfg.Users.Backend == config.BackendRedis || cfg.Customers.Backend == config.BackendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, rdb)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: ping %s: %w", cfg.Redis.Addr, err)
		}
	}

	users := newUserStore(cfg.Users.Backend, database, rdb)
	customers := newCustomerStore(cfg.Customers.Backend, rdb)

	notifier := cascade.New(cascade.Config{
		BaseURL:  cfg.Cascade.BaseURL,
		Timeout:  cfg.Cascade.Timeout,
		Logger:   logger,
		Recorder: m,
	})
	if notifier == nil {
		logger.Warn("account service not configured; customer deletes will not cascade")
	}

	router, err := api.NewRouter(api.Options{
		Users:     users,
		Customers: customers,
		Notifier:  notifier,
		Metrics:   m,
		Health:    healthCheck(database, rdb),
		Logger:    logger,
		MinAge:    cfg.Validation.MinAge,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			"addr", cfg.HTTP.Addr,
			"users_backend", cfg.Users.Backend,
			"customers_backend", cfg.Customers.Backend,
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.HTTP.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http: shutdown: %w", err)
	}
	notifier.Wait()
	return nil
}

func newLogger(cfg config.Log, out io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(out, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(out, opts)), nil
}

func openDatabase(cfg config.Database, logger *slog.Logger, m *metrics.Metrics) (*db.DB, error) {
	if cfg.Migrate {
		if err := migrations.Up(cfg.Driver, cfg.DSN, logger); err != nil {
			return nil, err
		}
		logger.Info("migrations applied", "driver", cfg.Driver)
	}
	return db.Open(db.Config{
		DSN:            cfg.DSN,
		DriverName:     cfg.Driver,
		MaxOpenConns:   cfg.MaxOpenConns,
		MaxIdleConns:   cfg.MaxOpenConns / 2,
		DefaultTimeout: cfg.Timeout,
		Hooks: []db.Hook{
			db.NewLogHook(db.LogHookConfig{
				Logger:             logger,
				SlowQueryThreshold: cfg.SlowQuery,
			}),
			db.NewMetricsHook(m),
		},
	})
}

func userSchema() store.Schema[int64] {
	return store.Schema[int64]{
		KeyField: "id",
		KeyGen:   store.SequentialKeys,
		Unique:   []string{"email", "phone_number"},
	}
}

func customerSchema() store.Schema[int64] {
	return store.Schema[int64]{
		KeyField: "customer_id",
		Unique:   []string{"email"},
	}
}

func newUserStore(backend string, database *db.DB, rdb redis.UniversalClient) store.Store[int64, models.User] {
	switch backend {
	case config.BackendSQL:
		return repo.NewUserRepo(database)
	case config.BackendRedis:
		return store.NewRedis[int64, models.User](rdb, store.RedisConfig[int64]{
			Prefix: "registry:users",
			Schema: userSchema(),
		})
	default:
		return store.NewMemory[int64, models.User](userSchema())
	}
}

func newCustomerStore(backend string, rdb redis.UniversalClient) store.Store[int64, models.Customer] {
	if backend == config.BackendRedis {
		return store.NewRedis[int64, models.Customer](rdb, store.RedisConfig[int64]{
			Prefix: "registry:customers",
			Schema: customerSchema(),
		})
	}
	return store.NewMemory[int64, models.Customer](customerSchema())
}

// healthCheck pings whichever external stores are in use.
func healthCheck(database *db.DB, rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if database != nil {
			if err := database.Ping(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}
