// Package models defines the core domain models for the automation engine.
package models

import (
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"     // Editable, not executable
	WorkflowStatusPublished WorkflowStatus = "published" // Executable by the engine
	WorkflowStatusArchived  WorkflowStatus = "archived"  // Historical, not executable
)

// Workflow is a directed graph of nodes that enrolled contacts are advanced
// through. The engine only reads workflow definitions; editing happens
// elsewhere.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"          validate:"required,min=3"`
	Status      WorkflowStatus `json:"status"        validate:"required"`
	EntryNodeID string         `json:"entry_node_id" validate:"required"`
	Nodes       []*Node        `json:"nodes"         validate:"required,min=1,dive"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NodeByID returns the node with the given ID, or an error when the graph
// does not contain it.
func (w *Workflow) NodeByID(id string) (*Node, error) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, nil
		}
	}

	return nil, fmt.Errorf("node %s not found in workflow %s", id, w.ID)
}

// IsExecutable reports whether the engine may advance runs of this workflow.
func (w *Workflow) IsExecutable() bool {
	return w.Status == WorkflowStatusPublished
}
