package db

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Skryldev/entity-registry/requestid"
)

// ─────────────────────────────────────────────────────────────────────────────
// Hook
// ─────────────────────────────────────────────────────────────────────────────

// Hook is called before and after every statement execution.
//
// Implementations MUST be goroutine-safe and SHOULD be non-blocking.
// Panics inside a hook are recovered by the hook chain and logged.
type Hook interface {
	// BeforeQuery is invoked immediately before the statement is sent to the
	// driver.
	BeforeQuery(ctx context.Context, query string, args []any)

	// AfterQuery is invoked after the driver returns. err is the already
	// mapped error returned to the caller.
	AfterQuery(ctx context.Context, query string, args []any, duration time.Duration, err error)
}

// hookChain runs hooks in order. A panicking hook is logged and skipped so
// it never fails the statement.
type hookChain []Hook

func newHookChain(hooks []Hook) hookChain {
	var c hookChain
	for _, h := range hooks {
		if h != nil {
			c = append(c, h)
		}
	}
	return c
}

func (c hookChain) Before(ctx context.Context, query string, args []any) {
	for _, h := range c {
		protect("BeforeQuery", func() { h.BeforeQuery(ctx, query, args) })
	}
}

func (c hookChain) After(ctx context.Context, query string, args []any, d time.Duration, err error) {
	for _, h := range c {
		protect("AfterQuery", func() { h.AfterQuery(ctx, query, args, d, err) })
	}
}

func protect(phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("registry/db: hook panic", "phase", phase, "panic", r)
		}
	}()
	fn()
}

// ── Logging hook ─────────────────────────────────────────────────────────────

// LogHookConfig configures the structured logging hook.
type LogHookConfig struct {
	// Logger defaults to slog.Default() if nil.
	Logger *slog.Logger
	// SlowQueryThreshold logs a warning when duration exceeds this value.
	// Zero disables slow-query logging.
	SlowQueryThreshold time.Duration
	// LogArgs includes bound parameters in log entries. Leave it off outside
	// development: user rows carry passwords.
	LogArgs bool
}

// NewLogHook returns a Hook that emits structured log entries via slog,
// tagged with the request id of ctx when there is one. Missing rows and
// constraint rejections are expected outcomes of registry operations and are
// logged at debug level.
func NewLogHook(cfg LogHookConfig) Hook {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &logHook{cfg: cfg, logger: logger}
}

type logHook struct {
	cfg    LogHookConfig
	logger *slog.Logger
}

func (h *logHook) BeforeQuery(_ context.Context, _ string, _ []any) {}

func (h *logHook) AfterQuery(ctx context.Context, query string, args []any, d time.Duration, err error) {
	attrs := []any{
		slog.String("query", trimQuery(query)),
		slog.Duration("duration", d),
	}
	if id := requestid.From(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if h.cfg.LogArgs && len(args) > 0 {
		attrs = append(attrs, slog.Any("args", args))
	}

	switch {
	case err != nil && (IsNotFound(err) || IsDuplicateKey(err)):
		h.logger.DebugContext(ctx, "registry/db: query rejected", append(attrs, slog.Any("error", err))...)
	case err != nil:
		h.logger.ErrorContext(ctx, "registry/db: query error", append(attrs, slog.Any("error", err))...)
	case h.cfg.SlowQueryThreshold > 0 && d > h.cfg.SlowQueryThreshold:
		h.logger.WarnContext(ctx, "registry/db: slow query", attrs...)
	default:
		h.logger.DebugContext(ctx, "registry/db: query", attrs...)
	}
}

// trimQuery collapses whitespace so multi-line statements log on one line.
func trimQuery(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > 300 {
		return q[:300] + "..."
	}
	return q
}

// ── Metrics hook ─────────────────────────────────────────────────────────────

// MetricsCollector receives the timing of every statement. success is false
// when the statement failed; a rejected insert counts as a failure.
type MetricsCollector interface {
	RecordQuery(query string, duration time.Duration, success bool)
}

// NewMetricsHook returns a Hook that delegates to a MetricsCollector.
func NewMetricsHook(collector MetricsCollector) Hook {
	return &metricsHook{c: collector}
}

type metricsHook struct{ c MetricsCollector }

func (h *metricsHook) BeforeQuery(_ context.Context, _ string, _ []any) {}
func (h *metricsHook) AfterQuery(_ context.Context, query string, _ []any, d time.Duration, err error) {
	h.c.RecordQuery(query, d, err == nil)
}
