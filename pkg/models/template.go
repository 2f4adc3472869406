package models

import "time"

// Template is stored message content referenced by email nodes. The engine
// reads templates; authoring happens elsewhere.
type Template struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"    validate:"required"`
	Subject   string    `json:"subject" validate:"required"`
	Body      string    `json:"body"    validate:"required"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
