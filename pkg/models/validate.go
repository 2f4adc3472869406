package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is shared across model checks; validator caches parsed struct
// metadata, so one instance serves the package.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the workflow fields and each node's config variant.
func (w *Workflow) Validate() error {
	err := validate.Struct(w)
	if err != nil {
		return fmt.Errorf("invalid workflow: %w", err)
	}

	for _, node := range w.Nodes {
		err := node.Validate()
		if err != nil {
			return fmt.Errorf("invalid workflow: %w", err)
		}
	}

	return nil
}

// Validate checks the run fields.
func (r *Run) Validate() error {
	err := validate.Struct(r)
	if err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	return nil
}

// Validate checks the queue item fields.
func (q *QueueItem) Validate() error {
	err := validate.Struct(q)
	if err != nil {
		return fmt.Errorf("invalid queue item: %w", err)
	}

	return nil
}

// Validate checks the contact fields.
func (c *Contact) Validate() error {
	err := validate.Struct(c)
	if err != nil {
		return fmt.Errorf("invalid contact: %w", err)
	}

	return nil
}

// Validate checks the template fields.
func (t *Template) Validate() error {
	err := validate.Struct(t)
	if err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}

	return nil
}
