package engine

import (
	"fmt"

	"github.com/statorq/statorq/pkg/models"
)

// ConfigError reports a start-up wiring problem: duplicate rules, unknown
// symbols, or registration after finalisation. Fatal; the process should not
// start serving with a partial configuration.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "engine config: " + e.Reason
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError reports that no rule permits the action in the
// resource's current state. A user-level error, reported not retried.
type InvalidTransitionError struct {
	Resource models.Ref
	Action   Action
	Current  State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot perform %s on %s in %s", e.Action, e.Resource, e.Current)
}
