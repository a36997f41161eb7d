package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "cart not found", err: ErrCartNotFound, want: true},
		{name: "empty cart", err: ErrCartEmpty, want: true},
		{name: "wrapped order not found", err: fmt.Errorf("load: %w", ErrOrderNotFound), want: true},
		{name: "joined session not found", err: errors.Join(ErrSessionNotFound, errors.New("extra")), want: true},
		{name: "pricing error", err: ErrInvalidPricing, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	if !IsIdempotencyConflict(fmt.Errorf("create: %w", ErrIdempotencyHashMismatch)) {
		t.Fatal("expected hash mismatch to be a conflict")
	}
	if !IsIdempotencyConflict(ErrIdempotencyKeyAlreadyExists) {
		t.Fatal("expected existing key to be a conflict")
	}
	if IsIdempotencyConflict(ErrIdempotencyKeyNotFound) {
		t.Fatal("missing key is not a conflict")
	}
}
