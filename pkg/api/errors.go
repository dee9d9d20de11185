package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/errs"
)

// errorBody is the uniform failure response.
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// statusFor maps taxonomy codes onto HTTP statuses.
var statusFor = map[string]int{
	"validation_error":         http.StatusBadRequest,
	"scope_error":              http.StatusForbidden,
	"auth_error":               http.StatusUnauthorized,
	"transient_error":          http.StatusServiceUnavailable,
	"circuit_open":             http.StatusServiceUnavailable,
	"policy_violation":         http.StatusUnprocessableEntity,
	"playbook_execution_error": http.StatusConflict,
	"fatal_error":              http.StatusInternalServerError,
	"not_found":                http.StatusNotFound,
	"already_exists":           http.StatusConflict,
	"invalid_transition":       http.StatusConflict,
	"internal_error":           http.StatusInternalServerError,
}

// respondError writes the uniform failure body for a taxonomy error.
func respondError(c *gin.Context, err error) {
	code := errs.Code(err)
	status, ok := statusFor[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", code,
			"error", err)
	}
	c.JSON(status, errorBody{
		Code:      code,
		Message:   err.Error(),
		Retryable: errs.Retryable(err),
	})
}
