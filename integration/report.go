package integration

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCheckFailed marks an invariant violation found by a check, as opposed
// to an error from the engine itself.
var ErrCheckFailed = errors.New("integration: check failed")

func failf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCheckFailed, fmt.Sprintf(format, args...))
}

// Check is the outcome of one check.
type Check struct {
	Name     string
	Passed   bool
	Duration time.Duration
	// Detail summarizes what was measured.
	Detail string
	// Err is the failure cause; nil when Passed.
	Err error
}

// MarshalJSON encodes Err as its message.
func (c Check) MarshalJSON() ([]byte, error) {
	type check struct {
		Name     string        `json:"name"`
		Passed   bool          `json:"passed"`
		Duration time.Duration `json:"duration"`
		Detail   string        `json:"detail,omitempty"`
		Error    string        `json:"error,omitempty"`
	}
	out := check{Name: c.Name, Passed: c.Passed, Duration: c.Duration, Detail: c.Detail}
	if c.Err != nil {
		out.Error = c.Err.Error()
	}
	return json.Marshal(out)
}

// Report collects the checks of a run in execution order.
type Report struct {
	Checks  []Check       `json:"checks"`
	Elapsed time.Duration `json:"elapsed"`
}

// Passed reports whether every check passed.
func (r Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failed returns the failed checks.
func (r Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Check returns the check named name.
func (r Report) Check(name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// String formats one line per check followed by a summary line.
func (r Report) String() string {
	var b strings.Builder
	for _, c := range r.Checks {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "%s  %-17s %8s", status, c.Name, c.Duration.Round(time.Microsecond))
		if c.Detail != "" {
			fmt.Fprintf(&b, "  %s", c.Detail)
		}
		if c.Err != nil {
			fmt.Fprintf(&b, "\n      %v", c.Err)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%d/%d passed in %s", len(r.Checks)-len(r.Failed()), len(r.Checks), r.Elapsed.Round(time.Millisecond))
	return b.String()
}
