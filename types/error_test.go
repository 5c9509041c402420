package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrProviderUnavailable, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("gemini").
		WithBatchIndex(3)

	if GetErrorCode(err) != ErrProviderUnavailable {
		t.Fatalf("expected code %s, got %s", ErrProviderUnavailable, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if err.BatchIndex != 3 {
		t.Fatalf("expected batch index 3, got %d", err.BatchIndex)
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_AsErrorThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrProviderNotConfigured, "gemini has no api key")
	wrapped := fmt.Errorf("resolve vision provider: %w", inner)

	e, ok := AsError(wrapped)
	if !ok {
		t.Fatalf("expected AsError to find *Error in chain")
	}
	if e.Code != ErrProviderNotConfigured {
		t.Fatalf("expected code %s, got %s", ErrProviderNotConfigured, e.Code)
	}
	if !IsCode(wrapped, ErrProviderNotConfigured) {
		t.Fatalf("expected IsCode to match through wrapping")
	}
}

func TestError_ConfigurationFamily(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code ErrorCode
		want bool
	}{
		{ErrUnknownProvider, true},
		{ErrProviderNotConfigured, true},
		{ErrInvalidBatchSize, true},
		{ErrInvalidConfig, true},
		{ErrTransport, false},
		{ErrGenerationFailed, false},
		{ErrAggregation, false},
	}
	for _, tc := range cases {
		if got := IsConfiguration(NewError(tc.code, "x")); got != tc.want {
			t.Fatalf("IsConfiguration(%s) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := WrapError(ErrTransport, "send request", cause).WithRetryable(true)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause preserved")
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable transport error")
	}
}

func TestGetErrorCode_NonStructured(t *testing.T) {
	t.Parallel()

	if code := GetErrorCode(errors.New("plain")); code != "" {
		t.Fatalf("expected empty code for plain error, got %s", code)
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors are not retryable")
	}
}
