package billing

import (
	"context"
	"net/http"
)

// Outcome classifies how a webhook event was concluded. Every event ends
// in exactly one outcome; anything else fails the request so the provider
// redelivers.
type Outcome string

const (
	// OutcomeProcessed means a transition handler ran and persisted state
	OutcomeProcessed Outcome = "processed"

	// OutcomeIgnored means the event type has no handler. Unknown types are
	// still acknowledged with success to avoid redelivery storms.
	OutcomeIgnored Outcome = "ignored"

	// OutcomeAcknowledged means the event was understood but intentionally
	// not applied (duplicate delivery, missing correlation metadata, or a
	// first invoice already captured by subscription creation).
	OutcomeAcknowledged Outcome = "acknowledged"
)

// Provider is the generic interface a billing backend must implement.
// This keeps the rest of the application decoupled from the concrete
// payment processor.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes provider
	// events. The implementation handles signature verification, routing
	// and state transitions internally.
	WebhookHandler() http.Handler

	// ReconcileMember forces a synchronization of the member's subscription
	// state from the provider into the store. Used for "restore purchases"
	// flows and nightly drift-repair jobs.
	ReconcileMember(ctx context.Context, memberID string) error
}
