package healthmon

import (
	"testing"
	"time"

	"go-warden/pkg/module"
)

func resultAt(ts time.Time, status module.Status) Result {
	return Result{Timestamp: ts, Status: status}
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := newHistory(3)
	base := time.Now()

	for i := 0; i < 5; i++ {
		h.append(resultAt(base.Add(time.Duration(i)*time.Second), module.StatusHealthy))
	}

	entries := h.snapshot()
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	// The newest three entries survive, oldest first.
	for i, e := range entries {
		want := base.Add(time.Duration(i+2) * time.Second)
		if !e.Timestamp.Equal(want) {
			t.Fatalf("entry %d timestamp = %v, want %v", i, e.Timestamp, want)
		}
	}
}

func TestHistorySnapshotIsCopy(t *testing.T) {
	h := newHistory(10)
	h.append(resultAt(time.Now(), module.StatusHealthy))

	snap := h.snapshot()
	snap[0].Status = module.StatusUnhealthy

	if h.snapshot()[0].Status != module.StatusHealthy {
		t.Fatal("mutating a snapshot leaked into the history")
	}
}

func TestUnhealthySinceEmpty(t *testing.T) {
	h := newHistory(10)
	if d := h.unhealthySince(time.Now()); d != 0 {
		t.Fatalf("empty history reported %v", d)
	}
}

func TestUnhealthySinceCurrentlyHealthy(t *testing.T) {
	h := newHistory(10)
	now := time.Now()
	h.append(resultAt(now.Add(-2*time.Minute), module.StatusUnhealthy))
	h.append(resultAt(now.Add(-1*time.Minute), module.StatusHealthy))

	if d := h.unhealthySince(now); d != 0 {
		t.Fatalf("healthy tail should report zero, got %v", d)
	}
}

func TestUnhealthySinceWalksBackToLastHealthy(t *testing.T) {
	h := newHistory(10)
	now := time.Now()
	h.append(resultAt(now.Add(-10*time.Minute), module.StatusHealthy))
	h.append(resultAt(now.Add(-6*time.Minute), module.StatusDegraded))
	h.append(resultAt(now.Add(-4*time.Minute), module.StatusUnhealthy))
	h.append(resultAt(now.Add(-2*time.Minute), module.StatusUnhealthy))

	got := h.unhealthySince(now)
	if got != 10*time.Minute {
		t.Fatalf("unhealthySince = %v, want 10m (measured from the last healthy entry)", got)
	}
}

func TestUnhealthySinceNoHealthyEntryUsesOldest(t *testing.T) {
	h := newHistory(10)
	now := time.Now()
	h.append(resultAt(now.Add(-8*time.Minute), module.StatusUnhealthy))
	h.append(resultAt(now.Add(-4*time.Minute), module.StatusUnhealthy))

	got := h.unhealthySince(now)
	if got != 8*time.Minute {
		t.Fatalf("unhealthySince = %v, want 8m (measured from the oldest entry)", got)
	}
}

func TestUnhealthyCountSince(t *testing.T) {
	h := newHistory(10)
	now := time.Now()
	h.append(resultAt(now.Add(-15*time.Minute), module.StatusUnhealthy)) // outside window
	h.append(resultAt(now.Add(-8*time.Minute), module.StatusUnhealthy))
	h.append(resultAt(now.Add(-5*time.Minute), module.StatusHealthy))
	h.append(resultAt(now.Add(-2*time.Minute), module.StatusUnhealthy))

	if got := h.unhealthyCountSince(now.Add(-10 * time.Minute)); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
}
