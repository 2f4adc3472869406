package models

import "time"

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusActive    RunStatus = "active"    // Eligible for advancement on the next tick
	RunStatusWaiting   RunStatus = "waiting"   // Parked on a delay node until it elapses
	RunStatusCompleted RunStatus = "completed" // Reached an end node; terminal
	RunStatusErrored   RunStatus = "errored"   // Failed on a node; terminal
)

// Run is one contact's live position within one workflow. Runs are created on
// enrollment, mutated exclusively by the engine, and retained for audit.
type Run struct {
	ID            string    `json:"id"`
	WorkflowID    string    `json:"workflow_id"     validate:"required"`
	ContactID     string    `json:"contact_id"      validate:"required"`
	CurrentNodeID string    `json:"current_node_id" validate:"required"`
	Status        RunStatus `json:"status"          validate:"required"`
	EnteredNodeAt time.Time `json:"entered_node_at"`
	LastError     *string   `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsTerminal reports whether the run may never be advanced again.
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusErrored
}
