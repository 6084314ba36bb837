package store

import (
	"context"
	"testing"
)

func TestMemoryGetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, ok, err := m.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}

	if err := m.Set(ctx, "a", []byte("one")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := m.Get(ctx, "a")
	if err != nil || !ok || string(got) != "one" {
		t.Fatalf("Get: %q ok=%v err=%v", got, ok, err)
	}

	if err := m.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Fatal("entry survived Delete")
	}
}

func TestMemorySetNX(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	inserted, err := m.SetNX(ctx, "call_1", []byte("x"))
	if err != nil || !inserted {
		t.Fatalf("first SetNX: inserted=%v err=%v", inserted, err)
	}
	inserted, err = m.SetNX(ctx, "call_1", []byte("y"))
	if err != nil || inserted {
		t.Fatalf("second SetNX: inserted=%v err=%v", inserted, err)
	}

	got, _, _ := m.Get(ctx, "call_1")
	if string(got) != "x" {
		t.Fatalf("SetNX overwrote existing value: %q", got)
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	buf := []byte("abc")
	if err := m.Set(ctx, "k", buf); err != nil {
		t.Fatalf("Set: %v", err)
	}
	buf[0] = 'z'

	got, _, _ := m.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value aliases caller buffer: %q", got)
	}
	got[0] = 'z'
	again, _, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("returned value aliases stored buffer: %q", again)
	}
}
