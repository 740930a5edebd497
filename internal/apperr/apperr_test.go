package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestDatabaseWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Database("insert job", cause)

	if !errors.Is(err, ErrDatabase) {
		t.Fatal("wrapped error must classify as ErrDatabase")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause must remain reachable for logging")
	}
	if Code(err) != "database_error" {
		t.Fatalf("code = %s", Code(err))
	}
}

func TestCodeAndStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{ErrNotFound, "not_found", http.StatusNotFound},
		{ErrInvalidState, "invalid_state", http.StatusConflict},
		{Validationf("limit %d over cap", 500), "validation_error", http.StatusBadRequest},
		{ErrForbidden, "forbidden", http.StatusForbidden},
		{errors.New("surprise"), "internal_error", http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := Code(c.err); got != c.code {
			t.Errorf("Code(%v) = %s, want %s", c.err, got, c.code)
		}
		if got := HTTPStatus(c.err); got != c.status {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.status)
		}
	}
}
