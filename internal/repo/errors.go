package repo

import (
	"errors"
	"fmt"
)

var (
	// ErrPathConflict is returned when two configured keys name the same path
	ErrPathConflict = errors.New("path conflict")
	// ErrCycle is returned when bind/overlay targets depend on each other
	ErrCycle = errors.New("cycle detected in the mappings")
	// ErrRootNotStandalone is returned when the root would not get its own index
	ErrRootNotStandalone = errors.New("the root must be standalone")
	// ErrNoRepository is returned when no ancestor holds a config file
	ErrNoRepository = errors.New("no repository found")

	// ErrNotOpen is returned when closing a path that is not cached
	ErrNotOpen = errors.New("path is not open")
	// ErrUnbalanced signals mismatched open/close calls
	ErrUnbalanced = errors.New("unbalanced open/close")
)

// ConfigError reports a problem with the configuration of one path
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %q: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
