// Package notifier defines the delivery boundary for push notifications.
//
// The engine only decides WHETHER and TO WHOM to notify; constructing and
// delivering the payload is this boundary's job. The one contract callers
// must honour: a delivery failure wrapping ErrInvalidTarget means the
// target is permanently dead and the stored token should be cleared. Any
// other failure is transient — leave state alone and let a later pass
// retry.
package notifier

import (
	"context"
	"errors"
)

// ErrInvalidTarget signals the delivery target is permanently invalid
// (unregistered device, revoked token). Distinct from transient failures.
var ErrInvalidTarget = errors.New("notifier: delivery target is no longer valid")

// Message is an addressed notification.
type Message struct {
	Target string            // opaque delivery-target identifier (device token)
	Title  string
	Body   string
	Data   map[string]string // data payload forwarded to the client app
}

// Notifier delivers a message to a single target.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Discard is a stand-in Notifier for deployments without push credentials
// (and for tests that don't care about delivery). Every send succeeds.
type Discard struct{}

func (Discard) Send(context.Context, Message) error { return nil }
