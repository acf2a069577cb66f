// Package cascade notifies the account service that a customer was deleted so
// its dependent accounts are removed too.
//
// Notifications are best effort. They run only after the primary delete has
// committed, are never retried, and their failures are logged and swallowed:
// the caller of the delete never sees them.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Skryldev/entity-registry/requestid"
)

// DefaultTimeout bounds a single outbound notification.
const DefaultTimeout = 5 * time.Second

// Outcome classifies a finished notification.
type Outcome string

const (
	// OutcomeRemoved means the account service deleted the dependents.
	OutcomeRemoved Outcome = "removed"
	// OutcomeAbsent means the account service had nothing for the key.
	OutcomeAbsent Outcome = "absent"
	// OutcomeFailed covers other statuses, network errors and timeouts.
	OutcomeFailed Outcome = "failed"
)

// ErrDependentService matches every *DependentServiceError.
var ErrDependentService = errors.New("registry: dependent service failure")

// DependentServiceError describes a failed notification. Status is zero when
// no response was received.
type DependentServiceError struct {
	Key    string
	Status int
	Cause  error
}

func (e *DependentServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("account service answered %d for customer %s", e.Status, e.Key)
	}
	return fmt.Sprintf("account service unreachable for customer %s: %v", e.Key, e.Cause)
}

func (e *DependentServiceError) Is(target error) bool { return target == ErrDependentService }
func (e *DependentServiceError) Unwrap() error        { return e.Cause }

// Recorder receives the outcome of every notification, e.g. for metrics.
type Recorder interface {
	CascadeOutcome(Outcome)
}

// Config configures a Notifier.
type Config struct {
	// BaseURL of the account service, e.g. "http://localhost:8001". Empty
	// disables notifications.
	BaseURL string

	// Timeout bounds each call. Default: DefaultTimeout.
	Timeout time.Duration

	// Client defaults to a new http.Client.
	Client *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Recorder is optional.
	Recorder Recorder
}

// Notifier issues DELETE {base}/api/accounts/{key}. A nil *Notifier is valid
// and does nothing.
type Notifier struct {
	base     string
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger
	recorder Recorder
	wg       sync.WaitGroup
}

// New returns a Notifier, or nil when cfg.BaseURL is empty.
func New(cfg Config) *Notifier {
	if cfg.BaseURL == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Notifier{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:  cfg.Timeout,
		client:   cfg.Client,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
	}
}

// Notify performs one notification synchronously. The returned error is a
// *DependentServiceError when the outcome is OutcomeFailed and nil otherwise;
// the failure has already been logged.
func (n *Notifier) Notify(ctx context.Context, key string) (Outcome, error) {
	if n == nil {
		return OutcomeAbsent, nil
	}
	outcome, status, err := n.call(ctx, key)
	if n.recorder != nil {
		n.recorder.CascadeOutcome(outcome)
	}

	if outcome == OutcomeFailed {
		derr := &DependentServiceError{Key: key, Status: status, Cause: err}
		n.logger.WarnContext(ctx, "cascade delete failed",
			"key", key,
			"status", status,
			"error", derr,
		)
		return outcome, derr
	}
	n.logger.InfoContext(ctx, "cascade delete completed",
		"key", key,
		"status", status,
		"outcome", outcome,
	)
	return outcome, nil
}

// Dispatch runs Notify in the background. The notification keeps the values
// of ctx, such as the request id, but not its cancellation, so it outlives
// the request that triggered it.
func (n *Notifier) Dispatch(ctx context.Context, key string) {
	if n == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		_, _ = n.Notify(detached, key)
	}()
}

// Wait blocks until every dispatched notification has finished.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

func (n *Notifier) call(ctx context.Context, key string) (Outcome, int, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	target := n.base + "/api/accounts/" + url.PathEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return OutcomeFailed, 0, err
	}
	if id := requestid.From(ctx); id != "" {
		req.Header.Set(requestid.Header, id)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return OutcomeFailed, 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return OutcomeRemoved, resp.StatusCode, nil
	case http.StatusNotFound:
		return OutcomeAbsent, resp.StatusCode, nil
	default:
		return OutcomeFailed, resp.StatusCode, nil
	}
}
