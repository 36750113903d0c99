package module

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateModule is returned when a module name is already registered
	ErrDuplicateModule = errors.New("module already registered")

	// ErrUnknownModule is returned when configuration references a module
	// that was never registered
	ErrUnknownModule = errors.New("module not registered")

	// ErrShutdownRequested is returned when initialization is halted by a
	// concurrent shutdown request
	ErrShutdownRequested = errors.New("shutdown requested during initialization")
)

// InitError wraps a module initialization failure. It only escapes
// InitializeModules when the failing module is critical.
type InitError struct {
	Module   string
	Critical bool
	Err      error
}

func (e *InitError) Error() string {
	if e.Critical {
		return fmt.Sprintf("critical module %q failed to initialize: %v", e.Module, e.Err)
	}
	return fmt.Sprintf("module %q failed to initialize: %v", e.Module, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
