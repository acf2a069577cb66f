// Package api exposes the user and customer registries over HTTP with gin.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Skryldev/entity-registry/cascade"
	"github.com/Skryldev/entity-registry/metrics"
	"github.com/Skryldev/entity-registry/models"
	"github.com/Skryldev/entity-registry/requestid"
	"github.com/Skryldev/entity-registry/store"
)

// Options wires the router. Users and Customers are required; everything
// else is optional.
type Options struct {
	Users     store.Store[int64, models.User]
	Customers store.Store[int64, models.Customer]

	// Notifier receives the key of every deleted customer.
	Notifier *cascade.Notifier

	// Metrics enables request metrics and the /metrics endpoint.
	Metrics *metrics.Metrics

	// Health is probed by /health; nil always reports healthy.
	Health func(context.Context) error

	Logger *slog.Logger

	// MinAge is the exclusive lower bound of a customer's age.
	MinAge int
}

// NewRouter builds the HTTP handler of the registry.
func NewRouter(o Options) (*gin.Engine, error) {
	if o.Users == nil || o.Customers == nil {
		return nil, fmt.Errorf("api: users and customers stores are required")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if err := RegisterValidators(o.MinAge); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(
		requestID(),
		gin.CustomRecovery(func(c *gin.Context, rec any) {
			o.Logger.ErrorContext(c.Request.Context(), "panic recovered", "panic", rec)
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
		}),
		logRequests(o.Logger),
		cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", requestid.Header},
			ExposeHeaders:    []string{requestid.Header},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	)
	if o.Metrics != nil {
		r.Use(observe(o.Metrics))
		r.GET("/metrics", gin.WrapH(o.Metrics.Handler()))
	}

	r.GET("/health", func(c *gin.Context) {
		if o.Health != nil {
			if err := o.Health(c.Request.Context()); err != nil {
				o.Logger.WarnContext(c.Request.Context(), "health check failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := r.Group("/api")

	users := &Resource[int64, models.User, models.UserParams, models.PasswordParams]{
		Name:     "User",
		Store:    o.Users,
		ParseKey: ParseInt64Key,
		Logger:   o.Logger,
	}
	users.Register(apiGroup.Group("/users"))

	customers := &Resource[int64, models.Customer, models.CustomerParams, models.CustomerPasswordParams]{
		Name:  "Customer",
		Store: o.Customers,
		ConflictMessages: map[string]string{
			"email": "email already registered",
		},
		ParseKey:     ParseInt64Key,
		UpdateStatus: http.StatusAccepted,
		AfterDelete: func(ctx context.Context, key int64) {
			o.Notifier.Dispatch(ctx, strconv.FormatInt(key, 10))
		},
		Logger: o.Logger,
	}
	customers.Register(apiGroup.Group("/customers"))

	return r, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Middleware
// ─────────────────────────────────────────────────────────────────────────────

// requestID reuses the caller's X-Request-ID or generates one, echoes it and
// stores it in the request context.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestid.Header)
		if id == "" {
			id = requestid.New()
		}
		c.Header(requestid.Header, id)
		c.Request = c.Request.WithContext(requestid.With(c.Request.Context(), id))
		c.Next()
	}
}

func logRequests(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"request_id", requestid.From(c.Request.Context()),
		}
		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "request", attrs...)
		case status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "request", attrs...)
		default:
			logger.InfoContext(ctx, "request", attrs...)
		}
	}
}

func observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.ObserveRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
