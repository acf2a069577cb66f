package cascade_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/entity-registry/cascade"
	"github.com/Skryldev/entity-registry/requestid"
)

type recorder struct {
	mu       sync.Mutex
	outcomes []cascade.Outcome
}

func (r *recorder) CascadeOutcome(o cascade.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recorder) all() []cascade.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cascade.Outcome(nil), r.outcomes...)
}

// accountService answers every request with status and records the paths.
type accountService struct {
	*httptest.Server
	mu      sync.Mutex
	paths   []string
	methods []string
	reqIDs  []string
}

func newAccountService(t *testing.T, status int, delay time.Duration) *accountService {
	t.Helper()
	a := &accountService{}
	a.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.paths = append(a.paths, r.URL.EscapedPath())
		a.methods = append(a.methods, r.Method)
		a.reqIDs = append(a.reqIDs, r.Header.Get(requestid.Header))
		a.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(a.Close)
	return a
}

func newNotifier(t *testing.T, base string, timeout time.Duration) (*cascade.Notifier, *recorder, *bytes.Buffer) {
	t.Helper()
	rec := &recorder{}
	var logs bytes.Buffer
	n := cascade.New(cascade.Config{
		BaseURL:  base,
		Timeout:  timeout,
		Logger:   slog.New(slog.NewJSONHandler(&logs, nil)),
		Recorder: rec,
	})
	require.NotNil(t, n)
	return n, rec, &logs
}

func TestNotify_Statuses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		outcome cascade.Outcome
		wantErr bool
	}{
		{"no content", http.StatusNoContent, cascade.OutcomeRemoved, false},
		{"ok", http.StatusOK, cascade.OutcomeRemoved, false},
		{"not found", http.StatusNotFound, cascade.OutcomeAbsent, false},
		{"server error", http.StatusInternalServerError, cascade.OutcomeFailed, true},
		{"unavailable", http.StatusServiceUnavailable, cascade.OutcomeFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newAccountService(t, tt.status, 0)
			n, rec, logs := newNotifier(t, svc.URL+"/", time.Second)

			outcome, err := n.Notify(context.Background(), "42")
			assert.Equal(t, tt.outcome, outcome)
			assert.Equal(t, []cascade.Outcome{tt.outcome}, rec.all())
			assert.Equal(t, []string{"/api/accounts/42"}, svc.paths)
			assert.Equal(t, []string{http.MethodDelete}, svc.methods)

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, cascade.ErrDependentService)
			var derr *cascade.DependentServiceError
			require.True(t, errors.As(err, &derr))
			assert.Equal(t, tt.status, derr.Status)
			assert.Equal(t, "42", derr.Key)
			assert.Contains(t, logs.String(), `"level":"WARN"`)
		})
	}
}

func TestNotify_Timeout(t *testing.T) {
	svc := newAccountService(t, http.StatusNoContent, 2*time.Second)
	n, rec, _ := newNotifier(t, svc.URL, 50*time.Millisecond)

	start := time.Now()
	outcome, err := n.Notify(context.Background(), "7")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, cascade.OutcomeFailed, outcome)
	require.ErrorIs(t, err, cascade.ErrDependentService)
	assert.Equal(t, []cascade.Outcome{cascade.OutcomeFailed}, rec.all())
}

func TestNotify_Unreachable(t *testing.T) {
	svc := newAccountService(t, http.StatusNoContent, 0)
	base := svc.URL
	svc.Close()

	n, _, logs := newNotifier(t, base, time.Second)
	outcome, err := n.Notify(context.Background(), "9")
	assert.Equal(t, cascade.OutcomeFailed, outcome)
	require.ErrorIs(t, err, cascade.ErrDependentService)
	assert.Contains(t, err.Error(), "unreachable")
	assert.Contains(t, logs.String(), "cascade delete failed")
}

func TestNotify_ForwardsRequestID(t *testing.T) {
	svc := newAccountService(t, http.StatusNoContent, 0)
	n, _, _ := newNotifier(t, svc.URL, time.Second)

	ctx := requestid.With(context.Background(), "req-123")
	_, err := n.Notify(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"req-123"}, svc.reqIDs)
}

func TestNotify_EscapesKey(t *testing.T) {
	svc := newAccountService(t, http.StatusNoContent, 0)
	n, _, _ := newNotifier(t, svc.URL, time.Second)

	_, err := n.Notify(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/accounts/a%2Fb"}, svc.paths)
}

func TestDispatch_OutlivesRequestContext(t *testing.T) {
	svc := newAccountService(t, http.StatusNoContent, 20*time.Millisecond)
	n, rec, _ := newNotifier(t, svc.URL, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	n.Dispatch(ctx, "5")
	cancel()
	n.Wait()

	assert.Equal(t, []cascade.Outcome{cascade.OutcomeRemoved}, rec.all())
}

func TestDisabledNotifier(t *testing.T) {
	n := cascade.New(cascade.Config{})
	assert.Nil(t, n)

	outcome, err := n.Notify(context.Background(), "1")
	assert.NoError(t, err)
	assert.Equal(t, cascade.OutcomeAbsent, outcome)
	n.Dispatch(context.Background(), "1")
	n.Wait()
}
