package bench

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidScenario is returned for scenarios that cannot run.
	ErrInvalidScenario = errors.New("bench: invalid scenario")

	// ErrUnknownPreset is returned when a stroke names a preset that is
	// neither built in nor loaded.
	ErrUnknownPreset = errors.New("bench: unknown preset")

	// ErrNoScenarios is returned by loaders for files without scenarios.
	ErrNoScenarios = errors.New("bench: no scenarios")

	// ErrServerClosed is returned by StatsServer after Close.
	ErrServerClosed = errors.New("bench: stats server closed")
)

// ScenarioError locates a scenario problem.
type ScenarioError struct {
	Scenario string
	Stroke   int // -1 when the problem is not stroke-specific
	Err      error
}

func (e *ScenarioError) Error() string {
	if e.Stroke < 0 {
		return fmt.Sprintf("bench: scenario %q: %v", e.Scenario, e.Err)
	}
	return fmt.Sprintf("bench: scenario %q stroke %d: %v", e.Scenario, e.Stroke, e.Err)
}

func (e *ScenarioError) Unwrap() error { return e.Err }
