package stripe

import "github.com/mihaimyh/subsync/pkg/subsync"

// Stripe subscription status vocabulary (the subset the engine maps).
const (
	subscriptionStatusActive            = "active"
	subscriptionStatusTrialing          = "trialing"
	subscriptionStatusPastDue           = "past_due"
	subscriptionStatusUnpaid            = "unpaid"
	subscriptionStatusCanceled          = "canceled"
	subscriptionStatusIncompleteExpired = "incomplete_expired"
)

// mapProviderStatus maps Stripe's status vocabulary onto the engine's
// three-state vocabulary. The second return value is false for statuses
// with no mapping; callers must preserve the current state and log the
// unmapped case instead of silently dropping it.
func mapProviderStatus(status string) (subsync.SubscriptionStatus, bool) {
	switch status {
	case subscriptionStatusActive, subscriptionStatusTrialing:
		return subsync.StatusActive, true
	case subscriptionStatusPastDue, subscriptionStatusUnpaid:
		return subsync.StatusPastDue, true
	case subscriptionStatusCanceled, subscriptionStatusIncompleteExpired:
		return subsync.StatusCancelled, true
	default:
		return "", false
	}
}
