// Package engine implements the tick-driven automation engine: node
// execution, run advancement and queue dispatch.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/driprun/driprun/pkg/models"
	"github.com/driprun/driprun/pkg/template"
	"github.com/google/uuid"
)

// queueItemNamespace scopes the IDs of messages produced by run transitions.
var queueItemNamespace = uuid.MustParse("9b1c5a04-7c3e-4b6f-a1d2-8e5f0c74d913")

// transitionItemID derives a stable queue item ID from the transition that
// produced the message. Retried and racing enqueues of the same transition
// land on the same row, so the insert can be idempotent.
func transitionItemID(runID, nodeID string, enteredAt time.Time) string {
	seed := fmt.Sprintf("%s/%s/%d", runID, nodeID, enteredAt.UTC().UnixNano())

	return uuid.NewSHA1(queueItemNamespace, []byte(seed)).String()
}

// DecisionKind enumerates what the executor wants done with a run.
type DecisionKind string

const (
	DecisionAdvance   DecisionKind = "advance"   // Move to NextNodeID, stay active
	DecisionWait      DecisionKind = "wait"      // Park on the current node until its delay elapses
	DecisionTerminate DecisionKind = "terminate" // Complete the run
)

// Decision is the executor's verdict for one run on one node. For email
// nodes Item carries the message to enqueue alongside the advance.
type Decision struct {
	Kind       DecisionKind
	NextNodeID string
	Item       *models.QueueItem
}

// Executor is the pure decision function over (node, run, contact, content).
// It touches no storage; the advancer loads inputs and applies outputs.
type Executor struct {
	logger *slog.Logger
}

// NewExecutor creates a node executor.
func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{logger: logger.With("module", "executor")}
}

// Execute decides the next action for a run sitting on the given node. An
// error marks the run errored; it is never retried automatically.
func (e *Executor) Execute(node *models.Node, run *models.Run, contact *models.Contact, content *models.Template, now time.Time) (*Decision, error) {
	switch node.Type {
	case models.NodeTypeEmail:
		return e.executeEmail(node, run, contact, content)
	case models.NodeTypeDelay:
		return e.executeDelay(node, run, now)
	case models.NodeTypeBranch:
		return e.executeBranch(node, run, contact)
	case models.NodeTypeEnd:
		return &Decision{Kind: DecisionTerminate}, nil
	default:
		return nil, fmt.Errorf("unknown node type %q on node %s", node.Type, node.ID)
	}
}

// executeEmail renders the referenced template against the contact and
// yields a queued message plus the advance to the node's single successor.
// Rendering failure is a node-level error, not retried inline.
func (e *Executor) executeEmail(node *models.Node, run *models.Run, contact *models.Contact, content *models.Template) (*Decision, error) {
	if node.Email == nil {
		return nil, fmt.Errorf("email node %s has no config", node.ID)
	}

	if content == nil {
		return nil, fmt.Errorf("email node %s references missing template %s", node.ID, node.Email.TemplateID)
	}

	subjectSource := content.Subject
	if node.Email.Subject != "" {
		subjectSource = node.Email.Subject
	}

	subject, err := template.RenderForContact(subjectSource, contact, run)
	if err != nil {
		return nil, fmt.Errorf("failed to render subject for node %s: %w", node.ID, err)
	}

	body, err := template.RenderForContact(content.Body, contact, run)
	if err != nil {
		return nil, fmt.Errorf("failed to render body for node %s: %w", node.ID, err)
	}

	runID := run.ID
	item := &models.QueueItem{
		ID:        transitionItemID(run.ID, node.ID, run.EnteredNodeAt),
		RunID:     &runID,
		Recipient: contact.Email,
		Subject:   subject,
		Body:      body,
		Status:    models.QueueItemStatusQueued,
	}

	return &Decision{Kind: DecisionAdvance, NextNodeID: node.Email.Next, Item: item}, nil
}

// executeDelay compares elapsed time on the node against the configured
// duration.
func (e *Executor) executeDelay(node *models.Node, run *models.Run, now time.Time) (*Decision, error) {
	if node.Delay == nil {
		return nil, fmt.Errorf("delay node %s has no config", node.ID)
	}

	elapsesAt := run.EnteredNodeAt.Add(time.Duration(node.Delay.Duration))
	if now.Before(elapsesAt) {
		return &Decision{Kind: DecisionWait}, nil
	}

	return &Decision{Kind: DecisionAdvance, NextNodeID: node.Delay.Next}, nil
}

// executeBranch evaluates the condition against contact and run data. An
// unevaluable condition takes the false branch with a recorded warning,
// never failing the run.
func (e *Executor) executeBranch(node *models.Node, run *models.Run, contact *models.Contact) (*Decision, error) {
	if node.Branch == nil {
		return nil, fmt.Errorf("branch node %s has no config", node.ID)
	}

	result, err := template.EvaluateCondition(node.Branch.Condition, contact, run)
	if err != nil {
		e.logger.Warn("branch condition unevaluable, taking false branch",
			"run_id", run.ID,
			"node_id", node.ID,
			"error", err,
		)

		result = false
	}

	next := node.Branch.OnFalse
	if result {
		next = node.Branch.OnTrue
	}

	return &Decision{Kind: DecisionAdvance, NextNodeID: next}, nil
}
