package apperror

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{BadRequest, http.StatusBadRequest},
		{Forbidden, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{Conflict, http.StatusConflict},
		{Internal, http.StatusInternalServerError},
		{Code("OTHER"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.code, tt.want, got)
		}
	}
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("get job: %w", New(NotFound, "job not found"))

	ae, ok := As(wrapped)
	if !ok {
		t.Fatal("expected AppError in chain")
	}
	if ae.Code() != NotFound || ae.Message() != "job not found" {
		t.Errorf("unexpected error: %s %s", ae.Code(), ae.Message())
	}

	if _, ok := As(fmt.Errorf("plain")); ok {
		t.Error("expected no AppError")
	}
}
