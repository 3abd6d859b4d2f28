// Package response writes the {success, data, error} JSON envelope used by every endpoint.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Success writes data with the given status.
func Success(c *gin.Context, status int, data any) {
	c.JSON(status, Body{Success: true, Data: data})
}

// Fail writes an error envelope with the given status.
func Fail(c *gin.Context, status int, err string) {
	c.JSON(status, Body{Success: false, Error: err})
}

// Abort writes an error envelope and stops the handler chain.
func Abort(c *gin.Context, status int, err string) {
	c.AbortWithStatusJSON(status, Body{Success: false, Error: err})
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data any) { Success(c, http.StatusOK, data) }

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data any) { Success(c, http.StatusCreated, data) }

func BadRequest(c *gin.Context, err string)   { Fail(c, http.StatusBadRequest, err) }
func Unauthorized(c *gin.Context, err string) { Fail(c, http.StatusUnauthorized, err) }
func Forbidden(c *gin.Context, err string)    { Fail(c, http.StatusForbidden, err) }
func NotFound(c *gin.Context, err string)     { Fail(c, http.StatusNotFound, err) }
func Conflict(c *gin.Context, err string)     { Fail(c, http.StatusConflict, err) }
func Internal(c *gin.Context, err string)     { Fail(c, http.StatusInternalServerError, err) }

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) { Fail(c, http.StatusServiceUnavailable, err) }
