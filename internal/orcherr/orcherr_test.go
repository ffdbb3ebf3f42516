package orcherr

import (
	"errors"
	"testing"
)

func TestKindIsRetryable(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected bool
	}{
		{Unavailable, true},
		{Timeout, true},
		{InvalidRequest, false},
		{Unauthorized, false},
		{Forbidden, false},
		{NotFound, false},
		{Conflict, false},
		{BudgetExceeded, false},
		{Aborted, false},
		{Internal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.IsRetryable(); got != tt.expected {
				t.Errorf("Kind(%q).IsRetryable() = %v, want %v", tt.kind, got, tt.expected)
			}
		})
	}
}

func TestNewAndAs(t *testing.T) {
	err := New(NotFound, "storage", "conversation not found")

	oe, ok := As(err)
	if !ok {
		t.Fatal("expected As to succeed")
	}
	if oe.Kind != NotFound {
		t.Errorf("Kind = %v, want %v", oe.Kind, NotFound)
	}
	if KindOf(err) != NotFound {
		t.Errorf("KindOf = %v, want %v", KindOf(err), NotFound)
	}
	if !Is(err, NotFound) {
		t.Error("Is(err, NotFound) = false, want true")
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Unavailable, "gateway", cause)

	if err == nil {
		t.Fatal("expected non-nil error")
	}
	if !errors.Is(err, err) {
		t.Error("errors.Is should match itself")
	}
	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}
	if Wrap(Internal, "x", nil) != nil {
		t.Error("Wrap(nil cause) should return nil")
	}
}

func TestKindOf_RawError(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != Internal {
		t.Errorf("KindOf(plain error) = %v, want %v", got, Internal)
	}
}

func TestIsRetryable_RawError(t *testing.T) {
	if IsRetryable(errors.New("plain")) {
		t.Error("raw errors should not be retryable")
	}
	if !IsRetryable(New(Timeout, "gateway", "slow upstream")) {
		t.Error("Timeout kind should be retryable")
	}
}
