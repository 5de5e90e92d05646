package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHTTP(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("assessment %s: %w", "abc", ErrNotFound), http.StatusNotFound},
		{"conflict", fmt.Errorf("email: %w", ErrConflict), http.StatusConflict},
		{"unauthenticated", ErrUnauthenticated, http.StatusUnauthorized},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"invalid input", fmt.Errorf("bad age: %w", ErrInvalidInput), http.StatusBadRequest},
		{"validation", Validation("email is required"), http.StatusBadRequest},
		{"echo passthrough", echo.NewHTTPError(http.StatusTeapot, "tea"), http.StatusTeapot},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := HTTP(tt.err)
			if he.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, he.Code)
			}
		})
	}
}

func TestHTTP_HidesInternalMessage(t *testing.T) {
	he := HTTP(errors.New("pq: password authentication failed"))
	if he.Message != "internal server error" {
		t.Errorf("expected generic message, got %v", he.Message)
	}
	if he.Internal == nil {
		t.Error("expected internal error to be kept for logging")
	}
}

func TestValidationError(t *testing.T) {
	ve := &ValidationError{}
	if ve.OrNil() != nil {
		t.Error("expected nil for empty validation error")
	}
	ve.Add("name is required")
	ve.Add("email is required")

	err := ve.OrNil()
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "validation failed: name is required; email is required" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	he := HTTP(fmt.Errorf("register: %w", err))
	body, ok := he.Message.(ValidationBody)
	if !ok {
		t.Fatalf("expected ValidationBody, got %T", he.Message)
	}
	if len(body.Fields) != 2 {
		t.Errorf("expected 2 fields, got %v", body.Fields)
	}
}
