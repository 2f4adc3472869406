package models

import "time"

// Contact is an enrolled recipient. The engine reads contacts for template
// rendering and branch conditions; contact management lives elsewhere.
type Contact struct {
	ID           string         `json:"id"`
	Email        string         `json:"email" validate:"required,email"`
	FirstName    string         `json:"first_name"`
	LastName     string         `json:"last_name"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	SubscribedAt time.Time      `json:"subscribed_at"`
}
