package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidSignature is returned when webhook signature validation fails.
	// Requests failing verification are rejected before any state mutation.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrMissingCorrelationMetadata is returned when an event carries no way
	// to link the provider subscription back to a member. Redelivery cannot
	// fix missing metadata, so the webhook acknowledges these events after
	// logging a data-integrity error instead of asking for a retry.
	ErrMissingCorrelationMetadata = errors.New("missing correlation metadata")

	// ErrCustomerNotFound is returned when a customer cannot be found in the provider
	ErrCustomerNotFound = errors.New("customer not found in billing provider")

	// ErrPlanNotConfigured is returned when a plan has no price mapping
	ErrPlanNotConfigured = errors.New("plan not configured in price mapping")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")
)
