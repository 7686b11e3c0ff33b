// Package ids generates the opaque unique identifiers used throughout the
// runtime for events, task executions, process instances, and checkpoints.
package ids

import "github.com/google/uuid"

// New returns a fresh opaque identifier. Callers must treat the result as
// an unstructured string; no component may parse or derive meaning from its
// contents.
func New() string {
	return uuid.NewString()
}
