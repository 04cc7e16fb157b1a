package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/subsync/pkg/subsync"
)

// reconcileConcurrency bounds the fan-out of ReconcileAll. Reconciliation
// hits the provider's list API per member; the cap keeps a nightly sweep
// from tripping provider rate limits.
const reconcileConcurrency = 4

// ReconcileMember forces a synchronization of the member's subscription
// state from Stripe into the store. Webhooks keep state fresh in steady
// operation; this repairs drift after outages and backs "restore
// purchases" flows.
func (p *Provider) ReconcileMember(ctx context.Context, memberID string) error {
	startTime := time.Now()

	member, err := p.members.GetMember(ctx, memberID)
	if err != nil {
		p.metrics.RecordReconcile(providerName, "error")
		return fmt.Errorf("failed to load member: %w", err)
	}
	if member.BillingCustomerRef == "" {
		// Never checked out - nothing to reconcile
		p.metrics.RecordReconcile(providerName, "success")
		return nil
	}

	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(member.BillingCustomerRef)
	params.Status = stripe.String("all")

	var failed error
	for sub, err := range p.stripeClient.V1Subscriptions.List(ctx, params) {
		if err != nil {
			p.metrics.RecordAPICall(providerName, "/subscriptions/list", "error")
			p.metrics.RecordReconcile(providerName, "error")
			p.metrics.RecordReconcileDuration(providerName, time.Since(startTime))
			return fmt.Errorf("failed to list subscriptions: %w", err)
		}
		if err := p.applyProviderSubscription(ctx, memberID, sub); err != nil {
			failed = err
		}
	}
	p.metrics.RecordAPICall(providerName, "/subscriptions/list", "success")

	status := "success"
	if failed != nil {
		status = "error"
	}
	p.metrics.RecordReconcile(providerName, status)
	p.metrics.RecordReconcileDuration(providerName, time.Since(startTime))
	return failed
}

// ReconcileAll reconciles many members with bounded concurrency. Intended
// for nightly drift-repair jobs; the first error is returned after the
// sweep finishes in-flight members.
func (p *Provider) ReconcileAll(ctx context.Context, memberIDs []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)

	for _, memberID := range memberIDs {
		g.Go(func() error {
			if err := p.ReconcileMember(ctx, memberID); err != nil {
				p.logger.Error("member reconciliation failed",
					subsync.Field{Key: "member_id", Value: memberID},
					subsync.Field{Key: "error", Value: err.Error()},
				)
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// applyProviderSubscription converges the local record for one provider
// subscription onto the provider's view. Missing local rows are recreated
// from the correlation metadata stamped at checkout; rows the provider
// reports as terminal are terminated.
func (p *Provider) applyProviderSubscription(
	ctx context.Context, memberID string, provider *stripe.Subscription,
) error {
	mapped, ok := mapProviderStatus(string(provider.Status))
	if !ok {
		p.logger.Warn("unmapped provider subscription status during reconcile",
			subsync.Field{Key: "external_ref", Value: provider.ID},
			subsync.Field{Key: "provider_status", Value: string(provider.Status)},
		)
		return nil
	}

	local, err := p.store.FindByExternalRef(ctx, provider.ID)
	if errors.Is(err, subsync.ErrSubscriptionNotFound) {
		if mapped == subsync.StatusCancelled {
			// Never tracked and already dead at the provider - skip
			return nil
		}
		return p.recreateFromProvider(ctx, memberID, provider, mapped)
	}
	if err != nil {
		return fmt.Errorf("failed to load subscription %s: %w", provider.ID, err)
	}

	if local.Status == subsync.StatusCancelled {
		// Terminal locally; the provider cannot reopen it
		return nil
	}
	if local.Status == mapped {
		return nil
	}

	p.metrics.RecordStateTransition(providerName, string(local.Status), string(mapped))
	local.Status = mapped
	if mapped == subsync.StatusCancelled {
		endDate := time.Now().UTC()
		if provider.CanceledAt > 0 {
			endDate = time.Unix(provider.CanceledAt, 0).UTC()
		}
		local.EndDate = &endDate
	}
	local.UpdatedAt = time.Now().UTC()

	if err := p.store.UpsertSubscription(ctx, local); err != nil {
		return fmt.Errorf("failed to update subscription %s: %w", provider.ID, err)
	}
	return p.cacheMemberStatus(ctx, memberID, mapped)
}

// recreateFromProvider rebuilds a missing local row from the provider's
// record, using the metadata stamped at checkout for plan and period. A
// provider subscription without that metadata is logged and skipped; it
// was not created through this engine.
func (p *Provider) recreateFromProvider(
	ctx context.Context, memberID string, provider *stripe.Subscription, status subsync.SubscriptionStatus,
) error {
	plan := subsync.PlanType(provider.Metadata[metadataKeyPlan])
	period := subsync.BillingPeriod(provider.Metadata[metadataKeyBillingPeriod])
	if !subsync.ValidPlan(plan) || !subsync.ValidBillingPeriod(period) {
		p.logger.Warn("provider subscription has no usable plan metadata, skipping",
			subsync.Field{Key: "external_ref", Value: provider.ID},
			subsync.Field{Key: "member_id", Value: memberID},
		)
		return nil
	}

	var amount float64
	if provider.Items != nil && len(provider.Items.Data) > 0 {
		if price := provider.Items.Data[0].Price; price != nil {
			amount = subsync.MinorToMajor(price.UnitAmount)
		}
	}

	startDate := time.Unix(provider.Created, 0).UTC()
	now := time.Now().UTC()
	sub := &subsync.Subscription{
		ID:          uuid.NewString(),
		MemberID:    memberID,
		ExternalRef: provider.ID,
		Plan:        plan,
		Period:      period,
		Status:      status,
		Amount:      amount,
		StartDate:   startDate,
		// The list API does not expose the period end reliably across API
		// versions; webhook events own the exact date.
		NextBillingDate: advancePeriod(startDate, period),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := p.store.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to recreate subscription %s: %w", provider.ID, err)
	}

	p.logger.Info("recreated subscription from provider during reconcile",
		subsync.Field{Key: "member_id", Value: memberID},
		subsync.Field{Key: "external_ref", Value: provider.ID},
	)
	return p.cacheMemberStatus(ctx, memberID, status)
}
