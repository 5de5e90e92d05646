// Package apperr holds the error taxonomy shared by services and the mapping
// from those errors to HTTP responses.
package apperr

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("already exists")
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden: insufficient permissions")
	ErrInvalidInput    = errors.New("invalid input")
)

// ValidationError lists every field problem found in a request.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// Add records a field problem.
func (e *ValidationError) Add(msg string) {
	e.Fields = append(e.Fields, msg)
}

// OrNil returns e when it holds at least one problem.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Validation builds a ValidationError from field messages.
func Validation(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}

// ValidationBody is the JSON body returned for a ValidationError.
type ValidationBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

// HTTP maps a service error onto an echo.HTTPError. Errors outside the
// taxonomy become a 500 with a generic message.
func HTTP(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, ValidationBody{
			Error:  "validation failed",
			Fields: ve.Fields,
		}).SetInternal(err)
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
