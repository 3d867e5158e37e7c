package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsRetryableTxError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "wrapped serialization failure", err: fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), want: true},
		{name: "idempotency race", err: &pgconn.PgError{Code: "23505", ConstraintName: idempotencyConstraint}, want: true},
		{name: "other unique violation", err: &pgconn.PgError{Code: "23505", ConstraintName: "accounts_account_number_key"}, want: false},
		{name: "check violation", err: &pgconn.PgError{Code: "23514"}, want: false},
		{name: "insufficient funds", err: ErrInsufficientFunds, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableTxError(tt.err); got != tt.want {
				t.Fatalf("isRetryableTxError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapIdentityConflict(t *testing.T) {
	if err := mapIdentityConflict(&pgconn.PgError{Code: "23505", ConstraintName: usernameConstraint}); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
	if err := mapIdentityConflict(&pgconn.PgError{Code: "23505", ConstraintName: emailConstraint}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	other := errors.New("connection reset")
	if err := mapIdentityConflict(other); err != other {
		t.Fatalf("expected unrelated error to pass through, got %v", err)
	}
}

func TestPrefixed(t *testing.T) {
	if got := prefixed("t", "id, user_id,amount"); got != "t.id, t.user_id, t.amount" {
		t.Fatalf("unexpected prefixed columns %q", got)
	}
}
