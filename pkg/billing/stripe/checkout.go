package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/subsync"
)

// CheckoutURL creates a Stripe Checkout Session for a subscription and
// returns its URL. The correlation metadata stamped here (member id, plan,
// billing period) is the only channel connecting the internal member to
// the provider subscription; the webhook pipeline depends on it.
func (p *Provider) CheckoutURL(
	ctx context.Context,
	memberID string,
	plan subsync.PlanType,
	period subsync.BillingPeriod,
	successURL, cancelURL string,
) (string, error) {
	startTime := time.Now()

	if !subsync.ValidPlan(plan) || !subsync.ValidBillingPeriod(period) {
		return "", fmt.Errorf("%w: %s/%s", billing.ErrPlanNotConfigured, plan, period)
	}

	priceID := p.priceIDForPlan(plan, period)
	if priceID == "" {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "plan_not_found")
		return "", fmt.Errorf("%w: %s/%s", billing.ErrPlanNotConfigured, plan, period)
	}

	// Lazily create the provider customer and cache it on the member, so
	// repeat checkouts reuse one customer instead of minting duplicates.
	customerID, err := p.ensureCustomer(ctx, memberID)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "customer_resolution_failed")
		return "", err
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}

	// Stamp correlation metadata on both the session (read by the
	// checkout-completed handler) and the subscription it creates (read by
	// later lifecycle events and reconciliation).
	params.Metadata = map[string]string{
		metadataKeyMemberID:      memberID,
		metadataKeyPlan:          string(plan),
		metadataKeyBillingPeriod: string(period),
	}
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata(metadataKeyMemberID, memberID)
	params.SubscriptionData.AddMetadata(metadataKeyPlan, string(plan))
	params.SubscriptionData.AddMetadata(metadataKeyBillingPeriod, string(period))

	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))

	return session.URL, nil
}

// PortalURL creates a Stripe Customer Portal session and returns its URL.
// This lets members manage their subscription, update payment methods, or
// cancel without any engine-side state.
func (p *Provider) PortalURL(ctx context.Context, memberID, returnURL string) (string, error) {
	startTime := time.Now()

	member, err := p.members.GetMember(ctx, memberID)
	if err != nil {
		return "", fmt.Errorf("failed to load member: %w", err)
	}
	if member.BillingCustomerRef == "" {
		p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "customer_not_found")
		return "", fmt.Errorf("%w: member %s", billing.ErrCustomerNotFound, memberID)
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(member.BillingCustomerRef),
		ReturnURL: stripe.String(returnURL),
	}

	session, err := p.stripeClient.V1BillingPortalSessions.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/billing_portal/sessions", time.Since(startTime))
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/billing_portal/sessions", time.Since(startTime))

	return session.URL, nil
}

// ensureCustomer returns the member's provider customer id, creating the
// customer on first use and caching the ref on the member record.
func (p *Provider) ensureCustomer(ctx context.Context, memberID string) (string, error) {
	member, err := p.members.GetMember(ctx, memberID)
	if err != nil {
		return "", fmt.Errorf("failed to load member: %w", err)
	}
	if member.BillingCustomerRef != "" {
		return member.BillingCustomerRef, nil
	}

	params := &stripe.CustomerCreateParams{
		Metadata: map[string]string{
			metadataKeyMemberID: memberID,
		},
	}
	customer, err := p.stripeClient.V1Customers.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/customers", "error")
		return "", fmt.Errorf("failed to create customer: %w", err)
	}
	p.metrics.RecordAPICall(providerName, "/customers", "success")

	if err := p.members.SetBillingCustomerRef(ctx, memberID, customer.ID); err != nil {
		// The customer exists in the provider either way; losing the cache
		// would mint a duplicate on the next checkout, so fail loudly.
		return "", fmt.Errorf("failed to cache billing customer ref: %w", err)
	}

	return customer.ID, nil
}
