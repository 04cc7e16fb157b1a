package subsync

import "context"

// Store defines the persistence contract for subscription state.
// All methods use concrete types from this package to avoid import cycles.
//
// Idempotency of the whole webhook pipeline rests on two properties of the
// implementation:
//   - UpsertSubscription is keyed by ExternalRef, so a redelivered lifecycle
//     event converges on the same row instead of creating a duplicate.
//   - InsertPaymentIfAbsent is a single atomic conditional insert, not a
//     read-then-write, so concurrent redeliveries of the same invoice event
//     produce exactly one ledger row.
type Store interface {
	// FindByExternalRef retrieves a subscription by provider id.
	// Returns ErrSubscriptionNotFound if no row matches.
	FindByExternalRef(ctx context.Context, externalRef string) (*Subscription, error)

	// UpsertSubscription inserts the subscription or, when a row with the
	// same ExternalRef exists, updates it in place as one atomic operation.
	UpsertSubscription(ctx context.Context, sub *Subscription) error

	// InsertPaymentIfAbsent atomically inserts a payment keyed by its
	// ExternalRef. When a row with that ref already exists the existing row
	// is returned and created is false; the ledger is append-only and the
	// stored row is never mutated.
	InsertPaymentIfAbsent(ctx context.Context, payment *Payment) (p *Payment, created bool, err error)

	// FindActiveByMember retrieves the member's live subscription (status
	// active or past_due; EndDate unset). Returns ErrSubscriptionNotFound
	// when the member has no live subscription, which the read path treats
	// as the free tier rather than an error.
	FindActiveByMember(ctx context.Context, memberID string) (*Subscription, error)

	// ListPaymentsBySubscription returns the subscription's payment ledger,
	// most recent first.
	ListPaymentsBySubscription(ctx context.Context, subscriptionID string) ([]Payment, error)
}

// MemberStore is the engine's view of the application's member records.
// The engine reads members and writes back only the two billing fields it
// maintains; everything else about a member is out of scope.
type MemberStore interface {
	// GetMember retrieves a member by id.
	// Returns ErrMemberNotFound if no member matches.
	GetMember(ctx context.Context, id string) (*Member, error)

	// SetBillingCustomerRef caches the provider customer id on the member.
	SetBillingCustomerRef(ctx context.Context, id, customerRef string) error

	// SetSubscriptionStatus updates the member's denormalized status cache.
	SetSubscriptionStatus(ctx context.Context, id string, status SubscriptionStatus) error
}
