package subsync

import (
	"context"
	"fmt"
)

// Resolver answers the "current entitlement" query for a member.
//
// Policy: a past_due subscription still resolves to the paid plan's
// features. Payment failure alone does not downgrade anyone; only a
// provider-side cancellation event ends the grace period. This is a
// deliberate product decision, not an accident of the query.
type Resolver struct {
	store  Store
	logger Logger
}

// NewResolver creates a Resolver backed by the given store.
func NewResolver(store Store, logger Logger) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &Resolver{store: store, logger: logger}, nil
}

// Resolve returns the member's current effective plan, status and feature
// set. A member with no live subscription resolves to the free tier; that
// is a valid state, never an error. Store failures are propagated so
// callers can distinguish "free tier" from "don't know".
func (r *Resolver) Resolve(ctx context.Context, memberID string) (*EntitlementView, error) {
	sub, err := r.store.FindActiveByMember(ctx, memberID)
	if err == ErrSubscriptionNotFound {
		return FreeTierView(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve entitlement: %w", err)
	}

	next := sub.NextBillingDate
	view := &EntitlementView{
		Plan:            sub.Plan,
		Status:          sub.Status,
		Amount:          sub.Amount,
		BillingPeriod:   sub.Period,
		NextBillingDate: &next,
		Features:        FeaturesForPlan(sub.Plan),
	}

	if sub.Status == StatusPastDue {
		r.logger.Debug("entitlement resolved during past_due grace period",
			Field{Key: "member_id", Value: memberID},
			Field{Key: "plan", Value: string(sub.Plan)},
		)
	}

	return view, nil
}

// FreeTierView returns the static view served when no live subscription
// exists.
func FreeTierView() *EntitlementView {
	return &EntitlementView{
		Plan:     PlanFree,
		Status:   StatusActive,
		Features: FeaturesForPlan(PlanFree),
	}
}
