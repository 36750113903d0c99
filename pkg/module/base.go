package module

import (
	"log/slog"
	"sync"
)

// BaseModule provides common functionality for all modules: descriptor
// storage and an idempotent stop channel for background tasks.
type BaseModule struct {
	desc     Descriptor
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewBaseModule creates a new base module for the given descriptor
func NewBaseModule(desc Descriptor) *BaseModule {
	return &BaseModule{
		desc:   desc,
		stopCh: make(chan struct{}),
	}
}

// Descriptor returns the module's registration metadata
func (b *BaseModule) Descriptor() Descriptor {
	return b.desc
}

// Name returns the module name for logging
func (b *BaseModule) Name() string {
	return b.desc.Name
}

// StopChannel returns the stop channel for background tasks
func (b *BaseModule) StopChannel() <-chan struct{} {
	return b.stopCh
}

// Stop closes the stop channel. Safe to call more than once.
func (b *BaseModule) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		slog.Info("Module stopped", "module", b.desc.Name)
	})
}

// Stopped reports whether Stop has been called
func (b *BaseModule) Stopped() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// Metrics provides a default empty metrics implementation
func (b *BaseModule) Metrics() map[string]any {
	return map[string]any{}
}
