// Package persistence provides standardized error types for storage
// operations.
package persistence

import "errors"

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrContactNotFound indicates a contact was not found by the given identifier.
	ErrContactNotFound = errors.New("contact not found")

	// ErrTemplateNotFound indicates a template was not found by the given identifier.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrQueueItemNotFound indicates a queue item was not found by the given identifier.
	ErrQueueItemNotFound = errors.New("queue item not found")

	// ErrStaleRun indicates a conditional run update matched no row because
	// the run moved since it was read. The caller skips the run; the next
	// tick re-reads current state.
	ErrStaleRun = errors.New("run state changed since read")
)

// IsStaleRun reports whether err is a lost conditional-update race on a run.
func IsStaleRun(err error) bool {
	return errors.Is(err, ErrStaleRun)
}
