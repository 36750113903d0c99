package store

import (
	"testing"
	"time"
)

func TestSetGetExpire(t *testing.T) {
	m := NewTTLMap(time.Hour)
	defer m.Close()

	m.Set("key", "value", 50*time.Millisecond)

	if v, ok := m.Get("key"); !ok || v != "value" {
		t.Fatalf("Get = %v, %v", v, ok)
	}

	time.Sleep(80 * time.Millisecond)

	if _, ok := m.Get("key"); ok {
		t.Fatal("expired entry still visible")
	}
	if m.Len() != 0 {
		t.Fatalf("Len = %d, want 0", m.Len())
	}
}

func TestSetIfAbsent(t *testing.T) {
	m := NewTTLMap(time.Hour)
	defer m.Close()

	if !m.SetIfAbsent("key", 1, 50*time.Millisecond) {
		t.Fatal("first SetIfAbsent should store")
	}
	if m.SetIfAbsent("key", 2, 50*time.Millisecond) {
		t.Fatal("second SetIfAbsent should be rejected while entry is live")
	}

	time.Sleep(80 * time.Millisecond)

	if !m.SetIfAbsent("key", 3, time.Minute) {
		t.Fatal("SetIfAbsent should store over an expired entry")
	}
	if v, _ := m.Get("key"); v != 3 {
		t.Fatalf("value = %v, want 3", v)
	}
}

func TestDelete(t *testing.T) {
	m := NewTTLMap(time.Hour)
	defer m.Close()

	m.Set("key", "value", time.Minute)
	m.Delete("key")

	if _, ok := m.Get("key"); ok {
		t.Fatal("deleted entry still visible")
	}
}

func TestJanitorSweeps(t *testing.T) {
	m := NewTTLMap(20 * time.Millisecond)
	defer m.Close()

	m.Set("a", 1, 10*time.Millisecond)
	m.Set("b", 2, time.Minute)

	time.Sleep(60 * time.Millisecond)

	m.mu.RLock()
	_, aPresent := m.entries["a"]
	_, bPresent := m.entries["b"]
	m.mu.RUnlock()

	if aPresent {
		t.Fatal("janitor did not sweep the expired entry")
	}
	if !bPresent {
		t.Fatal("janitor removed a live entry")
	}
}

func TestCloseIdempotent(t *testing.T) {
	m := NewTTLMap(time.Hour)
	m.Close()
	m.Close()
}
