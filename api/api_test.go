package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/entity-registry/api"
	"github.com/Skryldev/entity-registry/cascade"
	"github.com/Skryldev/entity-registry/db"
	"github.com/Skryldev/entity-registry/metrics"
	"github.com/Skryldev/entity-registry/migrations"
	"github.com/Skryldev/entity-registry/models"
	"github.com/Skryldev/entity-registry/repo"
	"github.com/Skryldev/entity-registry/requestid"
	"github.com/Skryldev/entity-registry/store"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────────────

func init() { gin.SetMode(gin.TestMode) }

func memoryUsers() store.Store[int64, models.User] {
	return store.NewMemory[int64, models.User](store.Schema[int64]{
		KeyField: "id",
		KeyGen:   store.SequentialKeys,
		Unique:   []string{"email", "phone_number"},
	})
}

func memoryCustomers() store.Store[int64, models.Customer] {
	return store.NewMemory[int64, models.Customer](store.Schema[int64]{
		KeyField: "customer_id",
		Unique:   []string{"email"},
	})
}

func setupRouter(t *testing.T, o api.Options) *gin.Engine {
	t.Helper()
	if o.Users == nil {
		o.Users = memoryUsers()
	}
	if o.Customers == nil {
		o.Customers = memoryCustomers()
	}
	if o.MinAge == 0 {
		o.MinAge = 18
	}
	r, err := api.NewRouter(o)
	require.NoError(t, err)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody []byte
	switch b := body.(type) {
	case nil:
	case string:
		reqBody = []byte(b)
	default:
		var err error
		reqBody, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewBuffer(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

func userPayload() map[string]any {
	return map[string]any{
		"full_name":    "John Doe",
		"email":        "john@example.com",
		"phone_number": "+1234567890",
		"password":     "password123",
	}
}

func customerPayload(id int64, email string) map[string]any {
	return map[string]any{
		"customer_id": id,
		"name":        "Paul",
		"full_name":   "Paul Murphy",
		"email":       email,
		"age":         25,
		"password":    "Str0ngPass1",
	}
}

func with(p map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	out[key] = value
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Users: concrete scenario on every backend
// ─────────────────────────────────────────────────────────────────────────────

func userBackends() map[string]func(t *testing.T) store.Store[int64, models.User] {
	return map[string]func(t *testing.T) store.Store[int64, models.User]{
		"memory": func(t *testing.T) store.Store[int64, models.User] { return memoryUsers() },
		"redis": func(t *testing.T) store.Store[int64, models.User] {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return store.NewRedis[int64, models.User](client, store.RedisConfig[int64]{
				Prefix: "registry:users",
				Schema: store.Schema[int64]{KeyField: "id", KeyGen: store.SequentialKeys, Unique: []string{"email", "phone_number"}},
			})
		},
		"sql": func(t *testing.T) store.Store[int64, models.User] {
			dsn, err := db.SQLiteDriver{}.DSN(db.DriverOptions{Database: filepath.Join(t.TempDir(), "api.db")})
			require.NoError(t, err)
			require.NoError(t, migrations.Up("sqlite3", dsn, nil))
			database, err := db.Open(db.Config{DSN: dsn, DriverName: "sqlite3"})
			require.NoError(t, err)
			t.Cleanup(func() { _ = database.Close() })
			return repo.NewUserRepo(database)
		},
	}
}

func TestUsers_JohnDoeScenario(t *testing.T) {
	for name, newStore := range userBackends() {
		t.Run(name, func(t *testing.T) {
			r := setupRouter(t, api.Options{Users: newStore(t)})

			rec := doRequest(t, r, http.MethodPost, "/api/users", userPayload())
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			created := decodeBody[models.User](t, rec)
			assert.NotZero(t, created.ID)
			assert.Equal(t, "John Doe", created.FullName)
			assert.Equal(t, "password123", created.Password)

			rec = doRequest(t, r, http.MethodPost, "/api/users", with(userPayload(), "phone_number", "+1987654321"))
			require.Equal(t, http.StatusConflict, rec.Code)
			assert.Equal(t, "email already exists", decodeBody[errorResponse](t, rec).Error)

			path := fmt.Sprintf("/api/users/%d", created.ID)
			rec = doRequest(t, r, http.MethodGet, path, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, created, decodeBody[models.User](t, rec))

			rec = doRequest(t, r, http.MethodDelete, path, nil)
			require.Equal(t, http.StatusNoContent, rec.Code)
			assert.Empty(t, rec.Body.String())

			rec = doRequest(t, r, http.MethodGet, path, nil)
			require.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "User not found", decodeBody[errorResponse](t, rec).Error)

			rec = doRequest(t, r, http.MethodDelete, path, nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestUsers_DuplicatePhone(t *testing.T) {
	r := setupRouter(t, api.Options{})

	require.Equal(t, http.StatusCreated, doRequest(t, r, http.MethodPost, "/api/users", userPayload()).Code)
	rec := doRequest(t, r, http.MethodPost, "/api/users", with(userPayload(), "email", "jane@example.com"))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "phone_number already exists", decodeBody[errorResponse](t, rec).Error)
}

func TestUsers_List(t *testing.T) {
	r := setupRouter(t, api.Options{})

	rec := doRequest(t, r, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	for i := 0; i < 3; i++ {
		p := with(userPayload(), "email", fmt.Sprintf("u%d@example.com", i))
		p = with(p, "phone_number", fmt.Sprintf("+35312345%d", i))
		require.Equal(t, http.StatusCreated, doRequest(t, r, http.MethodPost, "/api/users", p).Code)
	}

	rec = doRequest(t, r, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decodeBody[[]models.User](t, rec)
	require.Len(t, users, 3)
	for i, u := range users {
		assert.Equal(t, fmt.Sprintf("u%d@example.com", i), u.Email)
	}
}

func TestUsers_Validation(t *testing.T) {
	r := setupRouter(t, api.Options{})

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"short name", with(userPayload(), "full_name", "Jo"), "full_name"},
		{"missing name", with(userPayload(), "full_name", ""), "full_name"},
		{"email no domain", with(userPayload(), "email", "name@"), "email"},
		{"email empty label", with(userPayload(), "email", "name@.com"), "email"},
		{"email no at", with(userPayload(), "email", "name"), "email"},
		{"email dotted no at", with(userPayload(), "email", "name.com"), "email"},
		{"email undotted domain", with(userPayload(), "email", "name@domain"), "email"},
		{"phone letters", with(userPayload(), "phone_number", "12345abc"), "phone_number"},
		{"phone short", with(userPayload(), "phone_number", "+12345"), "phone_number"},
		{"phone long", with(userPayload(), "phone_number", "1234567890123456"), "phone_number"},
		{"short password", with(userPayload(), "password", "short"), "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, r, http.MethodPost, "/api/users", tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			body := decodeBody[errorResponse](t, rec)
			assert.Contains(t, body.Fields, tt.field)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodPost, "/api/users", `{"full_name":`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("wrong type", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodPost, "/api/users", with(userPayload(), "full_name", 42))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, decodeBody[errorResponse](t, rec).Error, "full_name")
	})

	t.Run("nothing stored", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodGet, "/api/users", nil)
		assert.JSONEq(t, "[]", rec.Body.String())
	})
}

func TestUsers_Update(t *testing.T) {
	r := setupRouter(t, api.Options{})

	created := decodeBody[models.User](t, doRequest(t, r, http.MethodPost, "/api/users", userPayload()))
	other := with(with(userPayload(), "email", "other@example.com"), "phone_number", "+1555000111")
	require.Equal(t, http.StatusCreated, doRequest(t, r, http.MethodPost, "/api/users", other).Code)

	path := fmt.Sprintf("/api/users/%d", created.ID)
	repl := map[string]any{
		"id":           9999,
		"full_name":    "Tremain",
		"email":        "tremain@example.com",
		"phone_number": "+1234567890",
		"password":     "newpassword",
	}
	rec := doRequest(t, r, http.MethodPut, path, repl)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[models.User](t, rec)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Tremain", updated.FullName)
	assert.Equal(t, "tremain@example.com", updated.Email)

	rec = doRequest(t, r, http.MethodPut, path, with(repl, "email", "other@example.com"))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, r, http.MethodPut, "/api/users/424242", repl)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, r, http.MethodPut, path, with(repl, "password", "x"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUsers_UpdatePassword(t *testing.T) {
	r := setupRouter(t, api.Options{})

	created := decodeBody[models.User](t, doRequest(t, r, http.MethodPost, "/api/users", userPayload()))
	path := fmt.Sprintf("/api/users/%d/password", created.ID)

	rec := doRequest(t, r, http.MethodPut, path, map[string]any{"password": "rotated-pass"})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[models.User](t, rec)
	want := created
	want.Password = "rotated-pass"
	assert.Equal(t, want, got)

	rec = doRequest(t, r, http.MethodPut, path, map[string]any{"password": "short"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, r, http.MethodPut, "/api/users/777/password", map[string]any{"password": "rotated-pass"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsers_InvalidID(t *testing.T) {
	r := setupRouter(t, api.Options{})
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := doRequest(t, r, method, "/api/users/abc", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	}
}

// failingUsers fails every call with an unclassified error.
type failingUsers struct{ store.Store[int64, models.User] }

func (failingUsers) List(context.Context) ([]models.User, error) {
	return nil, errors.New("disk on fire")
}

// unnamedConflicts rejects every create with a conflict on an unknown field,
// as the SQL store does for a constraint it cannot attribute.
type unnamedConflicts struct{ store.Store[int64, models.User] }

func (unnamedConflicts) Create(context.Context, models.User) (models.User, error) {
	return models.User{}, &store.ConflictError{Cause: errors.New("UNIQUE constraint failed: users.nickname")}
}

func TestUsers_ConflictOnUnknownField(t *testing.T) {
	r := setupRouter(t, api.Options{Users: unnamedConflicts{memoryUsers()}})
	rec := doRequest(t, r, http.MethodPost, "/api/users", userPayload())
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "User already exists", decodeBody[errorResponse](t, rec).Error)
}

func TestUsers_InternalError(t *testing.T) {
	r := setupRouter(t, api.Options{Users: failingUsers{memoryUsers()}})
	rec := doRequest(t, r, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeBody[errorResponse](t, rec).Error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Customers
// ─────────────────────────────────────────────────────────────────────────────

func TestCustomers_CRUD(t *testing.T) {
	r := setupRouter(t, api.Options{})

	rec := doRequest(t, r, http.MethodPost, "/api/customers", customerPayload(1, "paul.murphy@example.com"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[models.Customer](t, rec)
	assert.Equal(t, int64(1), created.CustomerID)
	assert.Equal(t, "Paul Murphy", created.FullName)

	rec = doRequest(t, r, http.MethodPost, "/api/customers", customerPayload(1, "other@example.com"))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeBody[errorResponse](t, rec).Error, "exists")

	rec = doRequest(t, r, http.MethodPost, "/api/customers", customerPayload(2, "paul.murphy@example.com"))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email already registered", decodeBody[errorResponse](t, rec).Error)

	rec = doRequest(t, r, http.MethodGet, "/api/customers/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decodeBody[models.Customer](t, rec))

	updated := customerPayload(999, "newemail@example.com")
	updated["name"] = "Updated Name"
	rec = doRequest(t, r, http.MethodPut, "/api/customers/1", updated)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	got := decodeBody[models.Customer](t, rec)
	assert.Equal(t, int64(1), got.CustomerID)
	assert.Equal(t, "Updated Name", got.Name)
	assert.Equal(t, "newemail@example.com", got.Email)

	rec = doRequest(t, r, http.MethodGet, "/api/customers/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, r, http.MethodPut, "/api/customers/404404", customerPayload(10, "noone@example.com"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/customers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.Customer](t, rec), 1)

	rec = doRequest(t, r, http.MethodDelete, "/api/customers/1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doRequest(t, r, http.MethodGet, "/api/customers/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Customer not found", decodeBody[errorResponse](t, rec).Error)
}

func TestCustomers_Validation(t *testing.T) {
	r := setupRouter(t, api.Options{})

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"email no domain", with(customerPayload(6, ""), "email", "name@"), "email"},
		{"email empty label", with(customerPayload(6, ""), "email", "name@.com"), "email"},
		{"email no at", with(customerPayload(6, ""), "email", "name"), "email"},
		{"email dotted no at", with(customerPayload(6, ""), "email", "name.com"), "email"},
		{"email undotted domain", with(customerPayload(6, ""), "email", "name@domain"), "email"},
		{"password short", with(customerPayload(7, "p7@example.com"), "password", "short7"), "password"},
		{"password digits only", with(customerPayload(7, "p7@example.com"), "password", "12345678"), "password"},
		{"password letters only", with(customerPayload(7, "p7@example.com"), "password", "allletters"), "password"},
		{"age at minimum", with(customerPayload(8, "p8@example.com"), "age", 18), "age"},
		{"age negative", with(customerPayload(8, "p8@example.com"), "age", -1), "age"},
		{"age zero", with(customerPayload(8, "p8@example.com"), "age", 0), "age"},
		{"missing name", with(customerPayload(8, "p8@example.com"), "name", ""), "name"},
		{"missing id", with(customerPayload(0, "p8@example.com"), "customer_id", 0), "customer_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, r, http.MethodPost, "/api/customers", tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			assert.Contains(t, decodeBody[errorResponse](t, rec).Fields, tt.field)
		})
	}
}

func TestCustomers_UpdatePassword(t *testing.T) {
	r := setupRouter(t, api.Options{})
	require.Equal(t, http.StatusCreated,
		doRequest(t, r, http.MethodPost, "/api/customers", customerPayload(3, "p3@example.com")).Code)

	tests := []struct {
		name     string
		password string
		status   int
	}{
		{"letters only", "allletters", http.StatusUnprocessableEntity},
		{"digits only", "12345678", http.StatusUnprocessableEntity},
		{"too short", "short7", http.StatusUnprocessableEntity},
		{"letters and digits", "N3wPassword", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, r, http.MethodPut, "/api/customers/3/password", map[string]any{"password": tt.password})
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				assert.Contains(t, decodeBody[errorResponse](t, rec).Fields, "password")
			}
		})
	}

	rec := doRequest(t, r, http.MethodGet, "/api/customers/3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "N3wPassword", decodeBody[models.Customer](t, rec).Password)
}

func TestCustomers_ConfiguredMinimumAge(t *testing.T) {
	r := setupRouter(t, api.Options{MinAge: 21})
	t.Cleanup(func() { require.NoError(t, api.RegisterValidators(18)) })

	rec := doRequest(t, r, http.MethodPost, "/api/customers", with(customerPayload(1, "a@example.com"), "age", 21))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/api/customers", with(customerPayload(1, "a@example.com"), "age", 22))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Cascade
// ─────────────────────────────────────────────────────────────────────────────

type accountService struct {
	*httptest.Server
	mu     sync.Mutex
	paths  []string
	reqIDs []string
}

func newAccountService(t *testing.T, status int) *accountService {
	t.Helper()
	a := &accountService{}
	a.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.paths = append(a.paths, r.Method+" "+r.URL.Path)
		a.reqIDs = append(a.reqIDs, r.Header.Get(requestid.Header))
		a.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(a.Close)
	return a
}

func (a *accountService) calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.paths...)
}

func (a *accountService) requestIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.reqIDs...)
}

func TestCustomers_DeleteCascades(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		outcome string
	}{
		{"removed", http.StatusNoContent, "removed"},
		{"absent", http.StatusNotFound, "absent"},
		{"dependent failure", http.StatusInternalServerError, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newAccountService(t, tt.status)
			m := metrics.New()
			n := cascade.New(cascade.Config{BaseURL: svc.URL, Timeout: time.Second, Recorder: m})
			r := setupRouter(t, api.Options{Notifier: n, Metrics: m})

			require.Equal(t, http.StatusCreated,
				doRequest(t, r, http.MethodPost, "/api/customers", customerPayload(5, "p5@example.com")).Code)

			req := httptest.NewRequest(http.MethodDelete, "/api/customers/5", nil)
			req.Header.Set(requestid.Header, "trace-5")
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			require.Equal(t, http.StatusNoContent, rec.Code)
			n.Wait()

			assert.Equal(t, []string{"DELETE /api/accounts/5"}, svc.calls())
			assert.Equal(t, []string{"trace-5"}, svc.requestIDs())
			assert.Equal(t, http.StatusNotFound, doRequest(t, r, http.MethodGet, "/api/customers/5", nil).Code)

			metricsRec := doRequest(t, r, http.MethodGet, "/metrics", nil)
			assert.Contains(t, metricsRec.Body.String(),
				fmt.Sprintf(`registry_cascade_notifications_total{outcome=%q} 1`, tt.outcome))
		})
	}
}

func TestCustomers_DeleteWithUnreachableAccountService(t *testing.T) {
	svc := newAccountService(t, http.StatusNoContent)
	base := svc.URL
	svc.Close()

	n := cascade.New(cascade.Config{BaseURL: base, Timeout: 200 * time.Millisecond})
	r := setupRouter(t, api.Options{Notifier: n})

	require.Equal(t, http.StatusCreated,
		doRequest(t, r, http.MethodPost, "/api/customers", customerPayload(3, "p3@example.com")).Code)
	assert.Equal(t, http.StatusNoContent, doRequest(t, r, http.MethodDelete, "/api/customers/3", nil).Code)
	n.Wait()
	assert.Equal(t, http.StatusNotFound, doRequest(t, r, http.MethodGet, "/api/customers/3", nil).Code)
}

func TestCustomers_NoCascadeOnFailedDelete(t *testing.T) {
	svc := newAccountService(t, http.StatusNoContent)
	n := cascade.New(cascade.Config{BaseURL: svc.URL})
	r := setupRouter(t, api.Options{Notifier: n})

	assert.Equal(t, http.StatusNotFound, doRequest(t, r, http.MethodDelete, "/api/customers/77", nil).Code)
	n.Wait()
	assert.Empty(t, svc.calls())
}

func TestUsers_DeleteDoesNotCascade(t *testing.T) {
	svc := newAccountService(t, http.StatusNoContent)
	n := cascade.New(cascade.Config{BaseURL: svc.URL})
	r := setupRouter(t, api.Options{Notifier: n})

	created := decodeBody[models.User](t, doRequest(t, r, http.MethodPost, "/api/users", userPayload()))
	assert.Equal(t, http.StatusNoContent, doRequest(t, r, http.MethodDelete, fmt.Sprintf("/api/users/%d", created.ID), nil).Code)
	n.Wait()
	assert.Empty(t, svc.calls())
}

// ─────────────────────────────────────────────────────────────────────────────
// Ambient endpoints
// ─────────────────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	r := setupRouter(t, api.Options{})
	rec := doRequest(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	down := setupRouter(t, api.Options{Health: func(context.Context) error { return errors.New("db gone") }})
	rec = doRequest(t, down, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestID(t *testing.T) {
	r := setupRouter(t, api.Options{})

	rec := doRequest(t, r, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get(requestid.Header))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestid.Header, "abc-123")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestid.Header))
}

func TestCORS(t *testing.T) {
	r := setupRouter(t, api.Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Origin", "http://frontend.example.com")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	r := setupRouter(t, api.Options{Metrics: metrics.New()})
	doRequest(t, r, http.MethodGet, "/api/users", nil)

	rec := doRequest(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `registry_http_requests_total{code="200",method="GET",route="/api/users"} 1`)
}

func TestNewRouter_RequiresStores(t *testing.T) {
	_, err := api.NewRouter(api.Options{})
	assert.Error(t, err)
}
