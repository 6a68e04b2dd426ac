// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"seqkeeper/internal/core/apperror"
	"seqkeeper/internal/core/id"
	"seqkeeper/internal/infrastructure/http/v1/dto"
	"seqkeeper/internal/infrastructure/http/v1/middleware"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct {
	loc *time.Location
}

// NewBaseHandler creates a base handler. Date-only inputs are read in loc.
func NewBaseHandler(loc *time.Location) *BaseHandler {
	if loc == nil {
		loc = time.Local
	}
	return &BaseHandler{loc: loc}
}

// BindJSON binds the JSON body into obj.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// BindOptionalJSON is BindJSON that accepts an empty body.
func (h *BaseHandler) BindOptionalJSON(c *gin.Context, obj any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return h.BindJSON(c, obj)
}

// Error registers err for middleware.ErrorHandler and aborts.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ParseID reads the :id path parameter.
func (h *BaseHandler) ParseID(c *gin.Context) (id.ID, bool) {
	v, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewInvalidInput("id", "invalid id format"))
		return id.Nil(), false
	}
	return v, true
}

// ParseDate parses a YYYY-MM-DD value in the handler's location.
// Empty input yields the zero time.
func (h *BaseHandler) ParseDate(c *gin.Context, field, value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	t, err := time.ParseInLocation(dto.DateLayout, value, h.loc)
	if err != nil {
		h.Error(c, apperror.NewInvalidInput(field, "expected date as YYYY-MM-DD"))
		return time.Time{}, false
	}
	return t, true
}

// ParseIntQuery parses integer query parameter with default value.
func (h *BaseHandler) ParseIntQuery(c *gin.Context, key string, defaultVal int) int {
	val := c.Query(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

// OK sends 200 with data.
func (h *BaseHandler) OK(c *gin.Context, data any) {
	h.respond(c, http.StatusOK, data)
}

// Created sends 201 with data.
func (h *BaseHandler) Created(c *gin.Context, data any) {
	h.respond(c, http.StatusCreated, data)
}

// NoContent sends 204.
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func (h *BaseHandler) respond(c *gin.Context, status int, data any) {
	middleware.CompleteIdempotency(c, status, data)
	c.JSON(status, data)
}
