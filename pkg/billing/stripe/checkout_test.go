package stripe

import (
	"context"
	"errors"
	"testing"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/subsync"
)

// Only the error paths that resolve before any provider API call are
// covered here; session creation itself needs a live Stripe key.

func TestCheckoutURL_InvalidPlan(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	_, err := provider.CheckoutURL(ctx, testMemberID, "platinum", subsync.BillingMonthly,
		"https://example.com/ok", "https://example.com/cancel")
	if !errors.Is(err, billing.ErrPlanNotConfigured) {
		t.Errorf("Expected ErrPlanNotConfigured, got %v", err)
	}

	_, err = provider.CheckoutURL(ctx, testMemberID, subsync.PlanStandard, "weekly",
		"https://example.com/ok", "https://example.com/cancel")
	if !errors.Is(err, billing.ErrPlanNotConfigured) {
		t.Errorf("Expected ErrPlanNotConfigured for bad period, got %v", err)
	}
}

func TestCheckoutURL_UnconfiguredPrice(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	// Premium/yearly is a valid catalog entry but has no price mapping
	_, err := provider.CheckoutURL(ctx, testMemberID, subsync.PlanPremium, subsync.BillingYearly,
		"https://example.com/ok", "https://example.com/cancel")
	if !errors.Is(err, billing.ErrPlanNotConfigured) {
		t.Errorf("Expected ErrPlanNotConfigured, got %v", err)
	}
}

func TestPortalURL_NoCustomerRef(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	// The seeded member never checked out, so there is no provider customer
	_, err := provider.PortalURL(ctx, testMemberID, "https://example.com/account")
	if !errors.Is(err, billing.ErrCustomerNotFound) {
		t.Errorf("Expected ErrCustomerNotFound, got %v", err)
	}
}

func TestPortalURL_UnknownMember(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	_, err := provider.PortalURL(ctx, "ghost", "https://example.com/account")
	if !errors.Is(err, subsync.ErrMemberNotFound) {
		t.Errorf("Expected ErrMemberNotFound, got %v", err)
	}
}

func TestReconcileMember_NoCustomerRefIsNoop(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	// A member who never checked out has nothing to reconcile
	if err := provider.ReconcileMember(ctx, testMemberID); err != nil {
		t.Errorf("Expected no-op success, got %v", err)
	}
}

func TestReconcileMember_UnknownMember(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	if err := provider.ReconcileMember(ctx, "ghost"); err == nil {
		t.Error("Expected error for unknown member")
	}
}
