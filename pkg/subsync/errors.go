package subsync

import "errors"

var (
	// ErrSubscriptionNotFound is returned when no subscription matches the lookup
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrMemberNotFound is returned when the referenced member does not exist
	ErrMemberNotFound = errors.New("member not found")

	// ErrInvalidSubscription is returned when a subscription record is missing required fields
	ErrInvalidSubscription = errors.New("invalid subscription")

	// ErrInvalidPayment is returned when a payment record is missing required fields
	ErrInvalidPayment = errors.New("invalid payment")
)
