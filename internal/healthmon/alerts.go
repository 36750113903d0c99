package healthmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notifier delivers a health alert, typically into the ops chat channel
type Notifier interface {
	Notify(ctx context.Context, key, message string) error
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, key, message string) error

func (f NotifierFunc) Notify(ctx context.Context, key, message string) error {
	return f(ctx, key, message)
}

// alerter rate-limits alerts: at most one notification per distinct alert
// key within the cooldown window.
type alerter struct {
	notifier Notifier
	cooldown time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time

	sent       int64
	suppressed int64
}

func newAlerter(notifier Notifier, cooldown time.Duration) *alerter {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &alerter{
		notifier: notifier,
		cooldown: cooldown,
		lastSent: make(map[string]time.Time),
	}
}

// raise sends the alert unless the same key fired within the cooldown
// window. The send time is recorded even when delivery fails, so a broken
// notifier cannot cause a storm. Returns true when a notification went out.
func (a *alerter) raise(ctx context.Context, key, message string) bool {
	a.mu.Lock()
	if last, ok := a.lastSent[key]; ok && time.Since(last) < a.cooldown {
		a.suppressed++
		a.mu.Unlock()
		return false
	}
	a.lastSent[key] = time.Now()
	a.sent++
	a.mu.Unlock()

	slog.Warn("Health alert", "key", key, "message", message)
	if a.notifier != nil {
		if err := a.notifier.Notify(ctx, key, message); err != nil {
			slog.Error("Failed to deliver health alert", "key", key, "error", err)
		}
	}
	return true
}

func (a *alerter) counts() (sent, suppressed int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent, a.suppressed
}
