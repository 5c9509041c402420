package types

import (
	"testing"
	"time"
)

func TestFrameBatchSpan(t *testing.T) {
	t.Parallel()

	b := FrameBatch{Index: 1, Frames: []Frame{
		{Index: 3, Timestamp: 9 * time.Second},
		{Index: 4, Timestamp: 12 * time.Second},
		{Index: 5, Timestamp: 15 * time.Second},
	}}

	start, end := b.Span()
	if start != 9*time.Second || end != 15*time.Second {
		t.Fatalf("Span() = %v, %v; want 9s, 15s", start, end)
	}
}

func TestFrameBatchSpanEmpty(t *testing.T) {
	t.Parallel()

	start, end := (FrameBatch{}).Span()
	if start != 0 || end != 0 {
		t.Fatalf("empty Span() = %v, %v; want 0, 0", start, end)
	}
}

func TestFormatOffset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{8 * time.Second, "00:08"},
		{75 * time.Second, "01:15"},
		{10 * time.Minute, "10:00"},
		{75 * time.Minute, "75:00"},
		{1499 * time.Millisecond, "00:01"},
	}

	for _, tt := range tests {
		if got := FormatOffset(tt.in); got != tt.want {
			t.Errorf("FormatOffset(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRoleValid(t *testing.T) {
	t.Parallel()

	if !RoleVision.Valid() || !RoleText.Valid() {
		t.Fatal("built-in roles should be valid")
	}
	if Role("audio").Valid() {
		t.Fatal("unknown role should be invalid")
	}
}
