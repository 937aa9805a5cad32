package asset

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports stage-gate or file-constraint violations. It is
// always locally recoverable and carries one message per offending field.
type ValidationError struct {
	Stage  string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	prefix := "validation failed"
	if e.Stage != "" {
		prefix += " at " + e.Stage
	}
	return prefix + ": " + strings.Join(parts, "; ")
}

// Add records a field violation, keeping the first message per field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// OrNil returns e only when it holds at least one violation.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// InvariantViolation means the planner produced a plan that would break
// family closure or level uniqueness. Valid inputs never produce one.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}
