package realtime

import (
	"testing"
	"time"
)

func TestBackoffDoublesThenCaps(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{
		800 * time.Millisecond,
		1600 * time.Millisecond,
		2 * time.Second,
		2 * time.Second,
	}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Fatalf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoffOutOfRange(t *testing.T) {
	b := DefaultBackoff()
	if got := b.Delay(0); got != 0 {
		t.Fatalf("Delay(0) = %v, want 0", got)
	}
	if got := b.Delay(b.MaxAttempts + 1); got != 0 {
		t.Fatalf("Delay(%d) = %v, want 0", b.MaxAttempts+1, got)
	}
}
