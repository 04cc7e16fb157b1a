package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/subsync"
)

// The transition handlers below form the subscription state machine:
//
//	NoSubscription -> Active -> {PastDue <-> Active} -> Cancelled (terminal)
//
// Every handler is idempotent. Stripe delivers at least once and may
// reorder, so a redelivered event must converge on the same state, and a
// handler that fails mid-way must fail the whole request so redelivery
// (not an internal retry) completes the transition.

// createSubscription handles checkout.session.completed: the transition
// out of NoSubscription. The session metadata stamped at checkout creation
// carries the member id, plan, and billing period.
func (p *Provider) createSubscription(
	ctx context.Context, event *stripe.Event, eventTime time.Time,
) (billing.Outcome, error) {
	var session checkoutSessionPayload
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return "", fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	externalRef := session.subscriptionRef()
	if externalRef == "" {
		// Not a subscription checkout (one-time payment) - nothing to sync
		return billing.OutcomeAcknowledged, nil
	}

	memberID := session.Metadata[metadataKeyMemberID]
	if memberID == "" {
		return "", fmt.Errorf("%w: %s on session %s",
			billing.ErrMissingCorrelationMetadata, metadataKeyMemberID, session.ID)
	}

	plan := subsync.PlanType(session.Metadata[metadataKeyPlan])
	period := subsync.BillingPeriod(session.Metadata[metadataKeyBillingPeriod])
	if !subsync.ValidPlan(plan) || !subsync.ValidBillingPeriod(period) {
		return "", fmt.Errorf("%w: corrupt plan metadata %q/%q on session %s",
			billing.ErrMissingCorrelationMetadata,
			session.Metadata[metadataKeyPlan], session.Metadata[metadataKeyBillingPeriod], session.ID)
	}

	// Idempotency: a redelivered checkout event must not create a second
	// row for the same provider subscription.
	if _, err := p.store.FindByExternalRef(ctx, externalRef); err == nil {
		p.logger.Debug("duplicate checkout delivery absorbed",
			subsync.Field{Key: "external_ref", Value: externalRef},
		)
		return billing.OutcomeAcknowledged, nil
	} else if !errors.Is(err, subsync.ErrSubscriptionNotFound) {
		return "", fmt.Errorf("failed to check for existing subscription: %w", err)
	}

	// Amounts arrive in minor units and are converted exactly once, here.
	amount := subsync.MinorToMajor(session.AmountTotal)

	// Prefer the provider's billing-period end when the session carries the
	// expanded subscription; otherwise advance the start date by one period
	// and let subscription-updated events reconcile the exact date.
	nextBilling := advancePeriod(eventTime, period)
	if embedded := session.embeddedSubscription(); embedded != nil {
		if end := embedded.periodEnd(); !end.IsZero() {
			nextBilling = end
		}
		if priceID := embedded.priceID(); priceID != "" {
			if item := embedded.Items.Data[0]; item.Price.UnitAmount > 0 {
				amount = subsync.MinorToMajor(item.Price.UnitAmount)
			}
		}
	}

	now := time.Now().UTC()
	sub := &subsync.Subscription{
		ID:              uuid.NewString(),
		MemberID:        memberID,
		ExternalRef:     externalRef,
		Plan:            plan,
		Period:          period,
		Status:          subsync.StatusActive,
		Amount:          amount,
		StartDate:       eventTime,
		NextBillingDate: nextBilling,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := p.store.UpsertSubscription(ctx, sub); err != nil {
		return "", fmt.Errorf("failed to persist subscription: %w", err)
	}

	p.metrics.RecordStateTransition(providerName, "none", string(subsync.StatusActive))

	if err := p.cacheMemberStatus(ctx, memberID, subsync.StatusActive); err != nil {
		return "", err
	}
	p.cacheCustomerRef(ctx, memberID, string(session.Customer))

	p.logger.Info("subscription created",
		subsync.Field{Key: "member_id", Value: memberID},
		subsync.Field{Key: "external_ref", Value: externalRef},
		subsync.Field{Key: "plan", Value: string(plan)},
	)
	return billing.OutcomeProcessed, nil
}

// recordPaymentSuccess handles invoice.payment_succeeded: appends to the
// payment ledger and recovers a past_due subscription back to active.
func (p *Provider) recordPaymentSuccess(
	ctx context.Context, event *stripe.Event, eventTime time.Time,
) (billing.Outcome, error) {
	var invoice invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return "", fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	externalRef := invoice.subscriptionID()
	if externalRef == "" {
		// Not a subscription invoice - ignore
		return billing.OutcomeAcknowledged, nil
	}

	// The first invoice of a subscription is already captured by
	// createSubscription; recording it again would double-count.
	if invoice.BillingReason == billingReasonSubscriptionCreate {
		p.logger.Debug("skipping initial subscription invoice",
			subsync.Field{Key: "invoice_id", Value: invoice.ID},
			subsync.Field{Key: "external_ref", Value: externalRef},
		)
		return billing.OutcomeAcknowledged, nil
	}

	sub, err := p.store.FindByExternalRef(ctx, externalRef)
	if err != nil {
		// Includes the out-of-order case where the invoice event beats the
		// checkout event: failing here makes Stripe redeliver after the
		// subscription row exists.
		return "", fmt.Errorf("failed to load subscription %s: %w", externalRef, err)
	}

	payment := &subsync.Payment{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		MemberID:       sub.MemberID,
		ExternalRef:    invoice.ID,
		Amount:         subsync.MinorToMajor(invoice.AmountPaid),
		Status:         subsync.PaymentSucceeded,
		PaidAt:         invoice.paidAt(eventTime),
		InvoiceURL:     invoice.HostedInvoiceURL,
		CreatedAt:      time.Now().UTC(),
	}

	_, created, err := p.store.InsertPaymentIfAbsent(ctx, payment)
	if err != nil {
		return "", fmt.Errorf("failed to record payment: %w", err)
	}

	// The subscription update runs on redeliveries too: a crash between the
	// ledger insert and this write leaves the redelivered event to finish
	// the transition.
	if end := invoice.periodEnd(); !end.IsZero() {
		sub.NextBillingDate = end
	}
	if sub.Status == subsync.StatusPastDue {
		p.metrics.RecordStateTransition(providerName, string(sub.Status), string(subsync.StatusActive))
		sub.Status = subsync.StatusActive
		p.logger.Info("subscription recovered from past_due",
			subsync.Field{Key: "member_id", Value: sub.MemberID},
			subsync.Field{Key: "external_ref", Value: sub.ExternalRef},
		)
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := p.store.UpsertSubscription(ctx, sub); err != nil {
		return "", fmt.Errorf("failed to update subscription: %w", err)
	}
	if sub.Live() {
		if err := p.cacheMemberStatus(ctx, sub.MemberID, sub.Status); err != nil {
			return "", err
		}
	}

	if !created {
		return billing.OutcomeAcknowledged, nil
	}
	return billing.OutcomeProcessed, nil
}

// recordPaymentFailure handles invoice.payment_failed: appends a failed
// ledger entry and moves an active subscription to past_due. Entitlement
// is kept during past_due; only a deletion event downgrades it.
func (p *Provider) recordPaymentFailure(
	ctx context.Context, event *stripe.Event, eventTime time.Time,
) (billing.Outcome, error) {
	var invoice invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return "", fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	externalRef := invoice.subscriptionID()
	if externalRef == "" {
		return billing.OutcomeAcknowledged, nil
	}

	sub, err := p.store.FindByExternalRef(ctx, externalRef)
	if err != nil {
		return "", fmt.Errorf("failed to load subscription %s: %w", externalRef, err)
	}

	payment := &subsync.Payment{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		MemberID:       sub.MemberID,
		ExternalRef:    invoice.ID,
		Amount:         subsync.MinorToMajor(invoice.AmountDue),
		Status:         subsync.PaymentFailed,
		PaidAt:         eventTime,
		InvoiceURL:     invoice.HostedInvoiceURL,
		CreatedAt:      time.Now().UTC(),
	}

	_, created, err := p.store.InsertPaymentIfAbsent(ctx, payment)
	if err != nil {
		return "", fmt.Errorf("failed to record failed payment: %w", err)
	}

	// Cancelled is terminal; a late failure event must not resurrect it.
	if sub.Status == subsync.StatusActive {
		p.metrics.RecordStateTransition(providerName, string(sub.Status), string(subsync.StatusPastDue))
		sub.Status = subsync.StatusPastDue
		sub.UpdatedAt = time.Now().UTC()
		if err := p.store.UpsertSubscription(ctx, sub); err != nil {
			return "", fmt.Errorf("failed to update subscription: %w", err)
		}
		if err := p.cacheMemberStatus(ctx, sub.MemberID, subsync.StatusPastDue); err != nil {
			return "", err
		}
		p.logger.Warn("subscription moved to past_due",
			subsync.Field{Key: "member_id", Value: sub.MemberID},
			subsync.Field{Key: "external_ref", Value: sub.ExternalRef},
			subsync.Field{Key: "invoice_id", Value: invoice.ID},
		)
	}

	if !created {
		return billing.OutcomeAcknowledged, nil
	}
	return billing.OutcomeProcessed, nil
}

// reconcileSubscription handles customer.subscription.updated: maps the
// provider's status vocabulary onto the engine's, updates the billing
// date, and applies mapped plan changes.
func (p *Provider) reconcileSubscription(
	ctx context.Context, event *stripe.Event, eventTime time.Time,
) (billing.Outcome, error) {
	var payload subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return "", fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	sub, err := p.store.FindByExternalRef(ctx, payload.ID)
	if errors.Is(err, subsync.ErrSubscriptionNotFound) {
		if payload.Metadata[metadataKeyMemberID] == "" {
			// A subscription the engine never created and cannot link to a
			// member. Retrying will not conjure the metadata.
			return "", fmt.Errorf("%w: unknown subscription %s with no member metadata",
				billing.ErrMissingCorrelationMetadata, payload.ID)
		}
		// Likely event reordering: the checkout event is still in flight.
		// Fail so the provider redelivers after creation has landed.
		return "", fmt.Errorf("subscription %s not yet known: %w", payload.ID, err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load subscription %s: %w", payload.ID, err)
	}

	// Terminal monotonicity: nothing moves a cancelled subscription.
	if sub.Status == subsync.StatusCancelled {
		return billing.OutcomeAcknowledged, nil
	}

	changedStatus := sub.Status
	if mapped, ok := mapProviderStatus(payload.Status); ok {
		changedStatus = mapped
	} else {
		// Explicit unmapped-status case: preserve current state and flag
		// for operator attention rather than guessing.
		p.logger.Warn("unmapped provider subscription status",
			subsync.Field{Key: "external_ref", Value: payload.ID},
			subsync.Field{Key: "provider_status", Value: payload.Status},
		)
		p.metrics.RecordWebhookError(providerName, "unmapped_status")
	}

	if priceID := payload.priceID(); priceID != "" {
		if price, ok := p.planForPrice(priceID); ok {
			sub.Plan = price.Plan
			sub.Period = price.Period
			if ua := payload.Items.Data[0].Price.UnitAmount; ua > 0 {
				sub.Amount = subsync.MinorToMajor(ua)
			}
		} else {
			// Unmapped price ids require a catalog decision, not a guess.
			p.logger.Warn("unmapped provider price id on plan change",
				subsync.Field{Key: "external_ref", Value: payload.ID},
				subsync.Field{Key: "price_id", Value: priceID},
			)
			p.metrics.RecordWebhookError(providerName, "unmapped_price")
		}
	}

	if end := payload.periodEnd(); !end.IsZero() {
		sub.NextBillingDate = end
	}

	if changedStatus != sub.Status {
		p.metrics.RecordStateTransition(providerName, string(sub.Status), string(changedStatus))
		sub.Status = changedStatus
		if changedStatus == subsync.StatusCancelled {
			endDate := eventTime
			if payload.CanceledAt > 0 {
				endDate = time.Unix(payload.CanceledAt, 0).UTC()
			}
			sub.EndDate = &endDate
		}
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := p.store.UpsertSubscription(ctx, sub); err != nil {
		return "", fmt.Errorf("failed to update subscription: %w", err)
	}
	if err := p.cacheMemberStatus(ctx, sub.MemberID, sub.Status); err != nil {
		return "", err
	}

	return billing.OutcomeProcessed, nil
}

// terminateSubscription handles customer.subscription.deleted: the
// terminal transition. Redelivery once cancelled is a safe no-op, and no
// later event reopens the row; a new checkout creates a fresh one.
func (p *Provider) terminateSubscription(
	ctx context.Context, event *stripe.Event, eventTime time.Time,
) (billing.Outcome, error) {
	var payload subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return "", fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	sub, err := p.store.FindByExternalRef(ctx, payload.ID)
	if errors.Is(err, subsync.ErrSubscriptionNotFound) {
		if payload.Metadata[metadataKeyMemberID] == "" {
			return "", fmt.Errorf("%w: unknown subscription %s with no member metadata",
				billing.ErrMissingCorrelationMetadata, payload.ID)
		}
		return "", fmt.Errorf("subscription %s not yet known: %w", payload.ID, err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load subscription %s: %w", payload.ID, err)
	}

	if sub.Status == subsync.StatusCancelled {
		// Already terminal - redelivery absorbed
		return billing.OutcomeAcknowledged, nil
	}

	p.metrics.RecordStateTransition(providerName, string(sub.Status), string(subsync.StatusCancelled))

	endDate := eventTime
	if payload.CanceledAt > 0 {
		endDate = time.Unix(payload.CanceledAt, 0).UTC()
	}
	sub.Status = subsync.StatusCancelled
	sub.EndDate = &endDate
	sub.UpdatedAt = time.Now().UTC()

	if err := p.store.UpsertSubscription(ctx, sub); err != nil {
		return "", fmt.Errorf("failed to terminate subscription: %w", err)
	}
	if err := p.cacheMemberStatus(ctx, sub.MemberID, subsync.StatusCancelled); err != nil {
		return "", err
	}

	p.logger.Info("subscription terminated",
		subsync.Field{Key: "member_id", Value: sub.MemberID},
		subsync.Field{Key: "external_ref", Value: sub.ExternalRef},
	)
	return billing.OutcomeProcessed, nil
}

// cacheMemberStatus updates the member's denormalized status field. A
// missing member is a data-integrity problem redelivery cannot fix, so it
// is logged and swallowed; any other failure propagates to force
// redelivery.
func (p *Provider) cacheMemberStatus(ctx context.Context, memberID string, status subsync.SubscriptionStatus) error {
	err := p.members.SetSubscriptionStatus(ctx, memberID, status)
	if errors.Is(err, subsync.ErrMemberNotFound) {
		p.logger.Error("member referenced by subscription does not exist",
			subsync.Field{Key: "member_id", Value: memberID},
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update member status cache: %w", err)
	}
	return nil
}

// cacheCustomerRef stores the provider customer id on the member when it
// is not already set. Best-effort: the ref is also written during checkout
// creation, so a failure here is only logged.
func (p *Provider) cacheCustomerRef(ctx context.Context, memberID, customerRef string) {
	if customerRef == "" {
		return
	}
	member, err := p.members.GetMember(ctx, memberID)
	if err != nil || member.BillingCustomerRef != "" {
		return
	}
	if err := p.members.SetBillingCustomerRef(ctx, memberID, customerRef); err != nil {
		p.logger.Warn("failed to cache billing customer ref",
			subsync.Field{Key: "member_id", Value: memberID},
			subsync.Field{Key: "error", Value: err.Error()},
		)
	}
}

// advancePeriod returns t advanced by one billing period.
func advancePeriod(t time.Time, period subsync.BillingPeriod) time.Time {
	if period == subsync.BillingYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}
