package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"tablenorm/internal/domain"
)

// APIResponse is the standard envelope for all API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *ListMeta   `json:"meta,omitempty"`
}

// APIError holds error details in the response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ListMeta describes a listing.
type ListMeta struct {
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// ErrHistoryDisabled is returned by history endpoints when no run store is configured.
var ErrHistoryDisabled = errors.New("run history is disabled")

// RespondOK sends a 200 success response.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// RespondList sends a 200 success response with listing metadata.
func RespondList(c *gin.Context, data interface{}, meta ListMeta) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data, Meta: &meta})
}

// RespondError sends an error response with the given status code.
func RespondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: msg},
	})
}

// MapDomainError translates domain errors to HTTP status codes and error codes.
func MapDomainError(err error) (status int, code, msg string) {
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound, "RUN_NOT_FOUND", "pipeline run not found"
	case errors.Is(err, domain.ErrUnsupportedDocument):
		return http.StatusBadRequest, "UNSUPPORTED_DOCUMENT", "unsupported document type; allowed: pdf, xlsx, xlsm, json"
	case errors.Is(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound, "DOCUMENT_NOT_FOUND", "document not found"
	case errors.Is(err, ErrHistoryDisabled):
		return http.StatusNotImplemented, "HISTORY_DISABLED", "run history is not configured"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred"
	}
}

// HandleError maps a domain error and sends the appropriate error response.
func HandleError(c *gin.Context, logger *slog.Logger, err error) {
	status, code, msg := MapDomainError(err)
	if status >= 500 {
		requestID, _ := c.Get("request_id")
		logger.Error("internal error", "request_id", requestID, "error", err)
	}
	RespondError(c, status, code, msg)
}
