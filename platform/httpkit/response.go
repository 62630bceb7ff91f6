// Package httpkit provides HTTP response utilities.
// This is part of the platform layer and contains no business logic.
package httpkit

import (
	"errors"
	"net/http"

	"lead_waterfall_backend/platform/apperr"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(c *gin.Context, status int, payload interface{}) {
	c.JSON(status, payload)
}

// Error sends an error response with the given status code and message.
func Error(c *gin.Context, status int, message string, details interface{}) {
	c.JSON(status, ErrorResponse{Error: message, Details: details})
}

// OK sends a 200 OK response with the given payload.
func OK(c *gin.Context, payload interface{}) {
	c.JSON(http.StatusOK, payload)
}

// XML sends an XML document verbatim with the given content type.
func XML(c *gin.Context, status int, body []byte) {
	c.Data(status, "application/xml; charset=utf-8", body)
}

// HandleError maps domain errors to HTTP responses.
// A typed *apperr.Error anywhere in the chain decides the status code.
// Untyped errors become 500 without leaking their message.
// Returns true if an error was handled, false otherwise.
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	var domainErr *apperr.Error
	if errors.As(err, &domainErr) {
		c.JSON(domainErr.HTTPStatus(), ErrorResponse{Error: domainErr.Message})
		return true
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	return true
}
