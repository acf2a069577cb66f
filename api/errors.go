package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/Skryldev/entity-registry/store"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// abortValidation answers 422 for a body that failed to bind or validate.
func abortValidation(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorBody{
			Error:  "validation failed",
			Fields: fields,
		})
		return
	}

	msg := "invalid request body"
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		msg = "invalid value for " + typeErr.Field
	}
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorBody{Error: msg})
}

// abortStore maps a store error onto its response. Unclassified errors are
// logged and answered with 500.
func abortStore(c *gin.Context, logger *slog.Logger, name string, messages map[string]string, err error) {
	switch {
	case errors.Is(err, store.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, errorBody{Error: conflictMessage(name, messages, err)})
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{Error: name + " not found"})
	case errors.Is(err, store.ErrUnsupported):
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, errorBody{Error: err.Error()})
	default:
		logger.ErrorContext(c.Request.Context(), "store operation failed",
			"resource", name,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// conflictMessage names the colliding field, or the resource when the store
// could not tell which field collided.
func conflictMessage(name string, messages map[string]string, err error) string {
	field := store.ConflictField(err)
	if field == "" {
		return name + " already exists"
	}
	if msg, ok := messages[field]; ok {
		return msg
	}
	return field + " already exists"
}
