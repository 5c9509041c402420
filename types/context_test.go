package types

import (
	"context"
	"testing"
)

func TestContextPropagation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, ok := TraceID(ctx); ok {
		t.Fatalf("expected no trace ID on empty context")
	}

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithUserID(ctx, "user-1")

	if v, ok := TraceID(ctx); !ok || v != "trace-1" {
		t.Fatalf("trace ID = %q, %v", v, ok)
	}
	if v, ok := RunID(ctx); !ok || v != "run-1" {
		t.Fatalf("run ID = %q, %v", v, ok)
	}
	if v, ok := UserID(ctx); !ok || v != "user-1" {
		t.Fatalf("user ID = %q, %v", v, ok)
	}
}

func TestContextEmptyValuesNotFound(t *testing.T) {
	t.Parallel()

	ctx := WithRunID(context.Background(), "")
	if _, ok := RunID(ctx); ok {
		t.Fatalf("expected empty run ID to read as absent")
	}
}
