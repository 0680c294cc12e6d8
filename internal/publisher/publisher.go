// Package publisher defines the contract for fire-and-forget notifications
// about finished analysis runs. Implementations live in subpackages.
package publisher

import "context"

// Publisher sends one payload to a topic and returns the broker message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
