package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Skryldev/entity-registry/store"
)

// Params is a request body that converts into an entity.
type Params[E any] interface {
	Entity() E
}

// PasswordParams is the request body of a password update.
type PasswordParams interface {
	NewPassword() string
}

// Resource exposes one entity store over HTTP:
//
//	POST   /            create
//	GET    /            list
//	GET    /:id         get
//	PUT    /:id         replace
//	PUT    /:id/password
//	DELETE /:id
//
// P validates create and replace bodies, W password update bodies.
type Resource[K comparable, E any, P Params[E], W PasswordParams] struct {
	// Name is used in messages, e.g. "User not found".
	Name  string
	Store store.Store[K, E]

	// ConflictMessages overrides the "<field> already exists" message of a
	// conflict on the given field.
	ConflictMessages map[string]string

	// ParseKey converts the :id path segment.
	ParseKey func(string) (K, error)

	// UpdateStatus is the status of a successful replace. Default: 200.
	UpdateStatus int

	// AfterDelete runs after a successful delete. Its outcome never affects
	// the response.
	AfterDelete func(ctx context.Context, key K)

	Logger *slog.Logger
}

// Register mounts the routes on g.
func (r *Resource[K, E, P, W]) Register(g *gin.RouterGroup) {
	if r.UpdateStatus == 0 {
		r.UpdateStatus = http.StatusOK
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	g.POST("", r.create)
	g.GET("", r.list)
	g.GET("/:id", r.get)
	g.PUT("/:id", r.update)
	g.PUT("/:id/password", r.updatePassword)
	g.DELETE("/:id", r.delete)
}

func (r *Resource[K, E, P, W]) create(c *gin.Context) {
	var p P
	if err := c.ShouldBindJSON(&p); err != nil {
		abortValidation(c, err)
		return
	}
	e, err := r.Store.Create(c.Request.Context(), p.Entity())
	if err != nil {
		r.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (r *Resource[K, E, P, W]) list(c *gin.Context) {
	all, err := r.Store.List(c.Request.Context())
	if err != nil {
		r.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, all)
}

func (r *Resource[K, E, P, W]) get(c *gin.Context) {
	key, ok := r.key(c)
	if !ok {
		return
	}
	e, err := r.Store.Get(c.Request.Context(), key)
	if err != nil {
		r.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (r *Resource[K, E, P, W]) update(c *gin.Context) {
	key, ok := r.key(c)
	if !ok {
		return
	}
	var p P
	if err := c.ShouldBindJSON(&p); err != nil {
		abortValidation(c, err)
		return
	}
	e, err := r.Store.Update(c.Request.Context(), key, p.Entity())
	if err != nil {
		r.abort(c, err)
		return
	}
	c.JSON(r.UpdateStatus, e)
}

func (r *Resource[K, E, P, W]) updatePassword(c *gin.Context) {
	key, ok := r.key(c)
	if !ok {
		return
	}
	var p W
	if err := c.ShouldBindJSON(&p); err != nil {
		abortValidation(c, err)
		return
	}
	e, err := r.Store.UpdatePassword(c.Request.Context(), key, p.NewPassword())
	if err != nil {
		r.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (r *Resource[K, E, P, W]) delete(c *gin.Context) {
	key, ok := r.key(c)
	if !ok {
		return
	}
	if err := r.Store.Delete(c.Request.Context(), key); err != nil {
		r.abort(c, err)
		return
	}
	if r.AfterDelete != nil {
		r.AfterDelete(c.Request.Context(), key)
	}
	c.Status(http.StatusNoContent)
}

func (r *Resource[K, E, P, W]) abort(c *gin.Context, err error) {
	abortStore(c, r.Logger, r.Name, r.ConflictMessages, err)
}

func (r *Resource[K, E, P, W]) key(c *gin.Context) (K, bool) {
	key, err := r.ParseKey(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorBody{Error: "invalid id"})
		return key, false
	}
	return key, true
}

// ParseInt64Key parses decimal int64 path keys.
func ParseInt64Key(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
