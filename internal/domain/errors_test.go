package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category error
	}{
		{"read only", &ReadOnlyFieldError{Kind: "match", Field: "tourney_team_id"}, ErrReadOnlyField},
		{"validation", Invalid("match", "report", ErrNoWinner), ErrValidation},
		{"remote", &RemoteFailure{Service: "Tourney.TourneyLoad.Info", Code: 404}, ErrRemote},
		{"transport", &TransportFailure{Service: "x", Err: errors.New("eof")}, ErrTransport},
		{"dead", &DeadEntityError{Kind: "team", ID: "7"}, ErrDeadEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("saving: %w", tt.err)
			if !errors.Is(wrapped, tt.category) {
				t.Fatalf("errors.Is(%v, %v) = false", wrapped, tt.category)
			}
			for _, other := range []error{ErrReadOnlyField, ErrValidation, ErrRemote, ErrTransport, ErrDeadEntity} {
				if other != tt.category && errors.Is(tt.err, other) {
					t.Fatalf("%v unexpectedly matches %v", tt.err, other)
				}
			}
		})
	}
}

func TestValidationErrorUnwrapsCause(t *testing.T) {
	err := Invalid("match", "report", ErrAlreadyReported)
	if !errors.Is(err, ErrAlreadyReported) {
		t.Fatalf("expected cause to match")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError")
	}
	if verr.Op != "report" {
		t.Fatalf("op = %q, want %q", verr.Op, "report")
	}
	if !IsClientError(err) {
		t.Fatalf("validation errors are client errors")
	}
	if IsClientError(&RemoteFailure{Service: "x", Code: 500}) {
		t.Fatalf("remote failures are not client errors")
	}
}
