// Package subsync contains the core domain model for the subscription
// lifecycle synchronization engine: the persisted Subscription/Payment
// records, the plan catalog, and the entitlement read path. Provider
// integration (webhook ingestion, checkout) lives in pkg/billing.
package subsync

import "time"

// PlanType identifies a paid plan in the product catalog.
type PlanType string

const (
	// PlanFree is the implicit default when no live subscription exists.
	// It is never persisted on a Subscription row.
	PlanFree PlanType = "free"
	// PlanStandard is the entry-level paid plan
	PlanStandard PlanType = "standard"
	// PlanPlus is the mid-tier paid plan
	PlanPlus PlanType = "plus"
	// PlanPremium is the top-tier paid plan
	PlanPremium PlanType = "premium"
)

// BillingPeriod is the billing cycle of a subscription.
type BillingPeriod string

const (
	// BillingMonthly bills every month
	BillingMonthly BillingPeriod = "monthly"
	// BillingYearly bills every year
	BillingYearly BillingPeriod = "yearly"
)

// SubscriptionStatus is the engine's three-state status vocabulary.
// Provider statuses are mapped onto it at ingestion (see billing/stripe).
type SubscriptionStatus string

const (
	// StatusActive means the subscription is paid up
	StatusActive SubscriptionStatus = "active"
	// StatusPastDue means the latest invoice failed; entitlement is kept
	// during this grace period until the provider cancels
	StatusPastDue SubscriptionStatus = "past_due"
	// StatusCancelled is terminal. A cancelled subscription never reopens;
	// a new checkout creates a fresh row instead.
	StatusCancelled SubscriptionStatus = "cancelled"
)

// PaymentStatus is the outcome of a single invoice.
type PaymentStatus string

const (
	// PaymentSucceeded means the invoice was paid
	PaymentSucceeded PaymentStatus = "succeeded"
	// PaymentFailed means the payment attempt failed
	PaymentFailed PaymentStatus = "failed"
)

// Subscription is the engine-owned record of a member's subscription.
// Rows are never physically deleted; termination sets Status and EndDate.
type Subscription struct {
	// ID is the internal identifier (UUID)
	ID string

	// MemberID is the owning member. At most one live subscription
	// (Status != cancelled) exists per member at any time.
	MemberID string

	// ExternalRef is the provider's subscription id. Unique; used as the
	// idempotency key for redelivered lifecycle events.
	ExternalRef string

	Plan   PlanType
	Period BillingPeriod
	Status SubscriptionStatus

	// Amount is the recurring charge in major currency units. Provider
	// events carry minor units (cents); the conversion happens exactly
	// once, at ingestion.
	Amount float64

	StartDate       time.Time
	NextBillingDate time.Time

	// EndDate is nil while the subscription is live and set on termination
	EndDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Live reports whether the subscription still grants entitlement
// (active or in the past-due grace period).
func (s *Subscription) Live() bool {
	return s.Status == StatusActive || s.Status == StatusPastDue
}

// Payment is one entry in a subscription's append-only payment ledger.
// Rows are created once per distinct ExternalRef and never mutated.
type Payment struct {
	// ID is the internal identifier (UUID)
	ID string

	SubscriptionID string
	MemberID       string

	// ExternalRef is the provider's invoice/payment id, the idempotency
	// key that collapses redelivered invoice events into a single row.
	ExternalRef string

	// Amount in major currency units
	Amount float64

	Status     PaymentStatus
	PaidAt     time.Time
	InvoiceURL string

	CreatedAt time.Time
}

// Member is the external collaborator entity the engine references but
// does not own. Only the billing-relevant fields appear here.
type Member struct {
	ID string

	// BillingCustomerRef is the provider customer id, created lazily on
	// first checkout and cached here to avoid duplicate customers.
	BillingCustomerRef string

	// SubscriptionStatus is a denormalized convenience cache of the
	// member's current status. The Subscription row is authoritative.
	SubscriptionStatus SubscriptionStatus
}

// EntitlementView is the derived answer to "what can this member use
// right now". It is computed from the live Subscription row (or the free
// tier) and never persisted.
type EntitlementView struct {
	Plan            PlanType           `json:"plan"`
	Status          SubscriptionStatus `json:"status"`
	Amount          float64            `json:"amount"`
	BillingPeriod   BillingPeriod      `json:"billing_period,omitempty"`
	NextBillingDate *time.Time         `json:"next_billing_date,omitempty"`
	Features        Features           `json:"features"`
}

// MinorToMajor converts a provider minor-unit amount (integer cents) to
// major units. Callers must apply it exactly once, at ingestion; stored
// amounts are never re-divided on read.
func MinorToMajor(minor int64) float64 {
	return float64(minor) / 100
}
