// Package sender defines the outbound message provider abstraction.
package sender

import "context"

// Sender transmits one rendered message and returns the provider-assigned
// message ID. A returned error is a transport failure the dispatcher retries
// up to its configured maximum attempts.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) (string, error)
}
