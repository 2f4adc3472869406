package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeType enumerates the node variants the engine can execute.
type NodeType string

const (
	NodeTypeEmail  NodeType = "email"  // Render a template and queue a message
	NodeTypeDelay  NodeType = "delay"  // Hold the run until a duration elapses
	NodeTypeBranch NodeType = "branch" // Route on a condition over contact data
	NodeTypeEnd    NodeType = "end"    // Complete the run
)

// Node is one step in a workflow graph. Exactly one of the typed config
// pointers is set, matching Type; decoding an unknown type is an explicit
// error rather than a runtime fallthrough.
type Node struct {
	ID     string            `json:"id"   validate:"required"`
	Type   NodeType          `json:"type" validate:"required"`
	Email  *EmailNodeConfig  `json:"email,omitempty"`
	Delay  *DelayNodeConfig  `json:"delay,omitempty"`
	Branch *BranchNodeConfig `json:"branch,omitempty"`
}

// EmailNodeConfig references a message template and the single successor
// node. Subject, when set, overrides the template's own subject line.
type EmailNodeConfig struct {
	TemplateID string `json:"template_id" validate:"required"`
	Subject    string `json:"subject,omitempty"`
	Next       string `json:"next" validate:"required"`
}

// DelayNodeConfig holds the wait duration and the single successor node.
type DelayNodeConfig struct {
	Duration Duration `json:"duration" validate:"required"`
	Next     string   `json:"next"     validate:"required"`
}

// BranchNodeConfig holds a condition template and the two successor nodes.
type BranchNodeConfig struct {
	Condition string `json:"condition" validate:"required"`
	OnTrue    string `json:"on_true"   validate:"required"`
	OnFalse   string `json:"on_false"  validate:"required"`
}

// Validate checks that the node carries the config its type requires and
// nothing else.
func (n *Node) Validate() error {
	var want int

	switch n.Type {
	case NodeTypeEmail:
		if n.Email == nil {
			return fmt.Errorf("node %s: missing email config", n.ID)
		}

		want = 1
	case NodeTypeDelay:
		if n.Delay == nil {
			return fmt.Errorf("node %s: missing delay config", n.ID)
		}

		want = 1
	case NodeTypeBranch:
		if n.Branch == nil {
			return fmt.Errorf("node %s: missing branch config", n.ID)
		}

		want = 1
	case NodeTypeEnd:
		want = 0
	default:
		return fmt.Errorf("node %s: unknown node type %q", n.ID, n.Type)
	}

	got := 0
	if n.Email != nil {
		got++
	}

	if n.Delay != nil {
		got++
	}

	if n.Branch != nil {
		got++
	}

	if got != want {
		return fmt.Errorf("node %s: config does not match type %q", n.ID, n.Type)
	}

	return nil
}

// Duration is a time.Duration that marshals as a string ("1h30m") so node
// configs stay readable in stored JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return fmt.Errorf("failed to decode duration: %w", err)
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", raw, err)
	}

	*d = Duration(parsed)

	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
