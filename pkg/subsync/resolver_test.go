package subsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore implements just enough of Store for resolver tests.
type fakeStore struct {
	sub *Subscription
	err error
}

func (f *fakeStore) FindByExternalRef(ctx context.Context, ref string) (*Subscription, error) {
	return nil, ErrSubscriptionNotFound
}

func (f *fakeStore) UpsertSubscription(ctx context.Context, sub *Subscription) error { return nil }

func (f *fakeStore) InsertPaymentIfAbsent(ctx context.Context, p *Payment) (*Payment, bool, error) {
	return p, true, nil
}

func (f *fakeStore) FindActiveByMember(ctx context.Context, memberID string) (*Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.sub == nil {
		return nil, ErrSubscriptionNotFound
	}
	return f.sub, nil
}

func (f *fakeStore) ListPaymentsBySubscription(ctx context.Context, subID string) ([]Payment, error) {
	return nil, nil
}

func TestNewResolver(t *testing.T) {
	_, err := NewResolver(nil, nil)
	assert.Error(t, err)

	resolver, err := NewResolver(&fakeStore{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, resolver)
}

func TestResolve_FreeTierFallback(t *testing.T) {
	resolver, err := NewResolver(&fakeStore{}, nil)
	require.NoError(t, err)

	view, err := resolver.Resolve(context.Background(), "member-1")
	require.NoError(t, err, "no subscription is a valid state, not an error")
	assert.Equal(t, PlanFree, view.Plan)
	assert.Equal(t, StatusActive, view.Status)
	assert.Equal(t, float64(0), view.Amount)
	assert.Nil(t, view.NextBillingDate)
	assert.Equal(t, 1, view.Features.MaxProjects)
	assert.False(t, view.Features.APIAccess)
}

func TestResolve_ActiveSubscription(t *testing.T) {
	next := time.Now().UTC().AddDate(0, 1, 0)
	resolver, err := NewResolver(&fakeStore{sub: &Subscription{
		MemberID:        "member-1",
		Plan:            PlanPremium,
		Period:          BillingYearly,
		Status:          StatusActive,
		Amount:          199.99,
		NextBillingDate: next,
	}}, nil)
	require.NoError(t, err)

	view, err := resolver.Resolve(context.Background(), "member-1")
	require.NoError(t, err)
	assert.Equal(t, PlanPremium, view.Plan)
	assert.Equal(t, 199.99, view.Amount)
	assert.Equal(t, BillingYearly, view.BillingPeriod)
	require.NotNil(t, view.NextBillingDate)
	assert.True(t, view.NextBillingDate.Equal(next))
	assert.True(t, view.Features.CustomDomain)
}

func TestResolve_PastDueKeepsPaidFeatures(t *testing.T) {
	resolver, err := NewResolver(&fakeStore{sub: &Subscription{
		MemberID: "member-1",
		Plan:     PlanPlus,
		Period:   BillingMonthly,
		Status:   StatusPastDue,
		Amount:   29.99,
	}}, nil)
	require.NoError(t, err)

	view, err := resolver.Resolve(context.Background(), "member-1")
	require.NoError(t, err)
	assert.Equal(t, PlanPlus, view.Plan, "grace period keeps the paid plan")
	assert.Equal(t, StatusPastDue, view.Status)
	assert.True(t, view.Features.PrioritySupport)
}

func TestResolve_StoreErrorPropagates(t *testing.T) {
	storeErr := errors.New("connection refused")
	resolver, err := NewResolver(&fakeStore{err: storeErr}, nil)
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), "member-1")
	require.Error(t, err, "store failure must be distinguishable from free tier")
	assert.ErrorIs(t, err, storeErr)
}

func TestSubscriptionLive(t *testing.T) {
	assert.True(t, (&Subscription{Status: StatusActive}).Live())
	assert.True(t, (&Subscription{Status: StatusPastDue}).Live())
	assert.False(t, (&Subscription{Status: StatusCancelled}).Live())
}

func TestMinorToMajor(t *testing.T) {
	assert.Equal(t, 19.99, MinorToMajor(1999))
	assert.Equal(t, 0.0, MinorToMajor(0))
	assert.Equal(t, 199.0, MinorToMajor(19900))
	assert.Equal(t, 0.01, MinorToMajor(1))
}
