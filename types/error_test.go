package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("connection reset")
	err := NewError(ErrProviderUnavailable, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithEndpoint("gpt-4o").
		WithAttempts(2)

	if GetErrorCode(err) != ErrProviderUnavailable {
		t.Fatalf("expected code %s, got %s", ErrProviderUnavailable, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestGetErrorCode_Wrapped(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrBudgetExceeded, "cap crossed").WithScopes([]string{"root", "child"})
	wrapped := fmt.Errorf("execute: %w", inner)

	if GetErrorCode(wrapped) != ErrBudgetExceeded {
		t.Fatalf("expected code to survive wrapping, got %q", GetErrorCode(wrapped))
	}
	if !IsCode(wrapped, ErrBudgetExceeded) {
		t.Fatalf("expected IsCode to match through the wrap")
	}
}

func TestIsRetryable_Unclassified(t *testing.T) {
	t.Parallel()

	if !IsRetryable(errors.New("dial tcp: i/o timeout")) {
		t.Fatalf("unclassified errors default to retryable")
	}
	if IsRetryable(nil) {
		t.Fatalf("nil is never retryable")
	}
	if IsRetryable(NewError(ErrProviderFatal, "bad credentials")) {
		t.Fatalf("fatal classification must win")
	}
}
