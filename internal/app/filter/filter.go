// Package filter provides the admission chain for inbound peer envelopes.
package filter

import (
	"context"

	"github.com/osa030/jamtab/internal/protocol"
)

// Inbound describes an envelope waiting to be dispatched.
type Inbound struct {
	Envelope  *protocol.Envelope
	From      string // Transport identity the envelope arrived from
	LocalID   string // Local peer identity ("" when not in a session)
	InSession bool   // Whether a session value is current
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "unknown_type", "self_echo", "no_session"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for inbound envelope filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// Check performs the filter check.
	Check(ctx context.Context, in Inbound) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}
