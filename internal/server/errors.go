package server

import (
	"errors"
	"net/http"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/gin-gonic/gin"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeSynthesisFailed     = "SYNTHESIS_FAILED"
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeBodyTooLarge        = "BODY_TOO_LARGE"
	CodeInternal            = "INTERNAL"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// classify maps an error onto an HTTP status and error code.
func classify(err error) (int, string) {
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, CodeBodyTooLarge
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, core.ErrUpstreamUnavailable):
		return http.StatusBadGateway, CodeUpstreamUnavailable
	case errors.Is(err, core.ErrSynthesisFailed):
		return http.StatusInternalServerError, CodeSynthesisFailed
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// errorBody builds the response body for err. Internal errors are not echoed back.
func errorBody(err error) (int, ErrorResponse) {
	status, code := classify(err)

	message := err.Error()
	if code == CodeInternal {
		message = http.StatusText(status)
	}

	return status, ErrorResponse{Error: message, Code: code}
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	status, body := errorBody(err)

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}
