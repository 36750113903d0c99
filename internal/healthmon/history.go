package healthmon

import (
	"sync"
	"time"

	"go-warden/pkg/module"
)

// Result is one recorded health check pass
type Result struct {
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Status    module.Status `json:"status"`
	Message   string        `json:"message,omitempty"`
	Issues    []string      `json:"issues,omitempty"`
}

// history is a bounded FIFO ring of health check results. Once the cap is
// exceeded, the oldest entries are evicted.
type history struct {
	mu      sync.RWMutex
	entries []Result
	cap     int
}

func newHistory(cap int) *history {
	if cap <= 0 {
		cap = 100
	}
	return &history{cap: cap}
}

func (h *history) append(r Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, r)
	if len(h.entries) > h.cap {
		h.entries = h.entries[len(h.entries)-h.cap:]
	}
}

func (h *history) snapshot() []Result {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Result, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *history) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// unhealthySince reports how long the system has been continuously
// unhealthy, walking history backward to the most recent healthy entry.
// When no healthy entry is retained, the duration is measured from the
// oldest retained entry, which can overstate the outage after a restart.
func (h *history) unhealthySince(now time.Time) time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.entries) == 0 {
		return 0
	}
	if h.entries[len(h.entries)-1].Status != module.StatusUnhealthy {
		return 0
	}

	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Status == module.StatusHealthy {
			return now.Sub(h.entries[i].Timestamp)
		}
	}
	return now.Sub(h.entries[0].Timestamp)
}

// unhealthyCountSince counts unhealthy entries recorded after cutoff
func (h *history) unhealthyCountSince(cutoff time.Time) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, e := range h.entries {
		if e.Timestamp.After(cutoff) && e.Status == module.StatusUnhealthy {
			count++
		}
	}
	return count
}
