// Package memory provides an in-memory implementation of the subsync
// Store and MemberStore interfaces. This implementation is primarily
// intended for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mihaimyh/subsync/pkg/subsync"
)

// Storage implements subsync.Store and subsync.MemberStore using
// in-memory maps guarded by a single mutex, which also gives the
// conditional payment insert its required atomicity.
type Storage struct {
	mu            sync.RWMutex
	subscriptions map[string]*subsync.Subscription // keyed by ExternalRef
	payments      map[string]*subsync.Payment      // keyed by ExternalRef
	members       map[string]*subsync.Member
}

// New creates a new in-memory storage adapter.
func New() *Storage {
	return &Storage{
		subscriptions: make(map[string]*subsync.Subscription),
		payments:      make(map[string]*subsync.Payment),
		members:       make(map[string]*subsync.Member),
	}
}

// FindByExternalRef implements subsync.Store.
func (s *Storage) FindByExternalRef(ctx context.Context, externalRef string) (*subsync.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[externalRef]
	if !ok {
		return nil, subsync.ErrSubscriptionNotFound
	}

	// Return a copy to prevent external mutations
	subCopy := *sub
	return &subCopy, nil
}

// UpsertSubscription implements subsync.Store.
func (s *Storage) UpsertSubscription(ctx context.Context, sub *subsync.Subscription) error {
	if sub == nil || sub.ExternalRef == "" || sub.MemberID == "" {
		return subsync.ErrInvalidSubscription
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subCopy := *sub
	if existing, ok := s.subscriptions[sub.ExternalRef]; ok {
		// The internal id and creation time are stable across upserts
		subCopy.ID = existing.ID
		subCopy.CreatedAt = existing.CreatedAt
	}
	s.subscriptions[sub.ExternalRef] = &subCopy
	return nil
}

// InsertPaymentIfAbsent implements subsync.Store.
func (s *Storage) InsertPaymentIfAbsent(ctx context.Context, payment *subsync.Payment) (*subsync.Payment, bool, error) {
	if payment == nil || payment.ExternalRef == "" || payment.SubscriptionID == "" {
		return nil, false, subsync.ErrInvalidPayment
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.payments[payment.ExternalRef]; ok {
		existingCopy := *existing
		return &existingCopy, false, nil
	}

	paymentCopy := *payment
	s.payments[payment.ExternalRef] = &paymentCopy

	resultCopy := paymentCopy
	return &resultCopy, true, nil
}

// FindActiveByMember implements subsync.Store.
func (s *Storage) FindActiveByMember(ctx context.Context, memberID string) (*subsync.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.MemberID == memberID && sub.Live() {
			subCopy := *sub
			return &subCopy, nil
		}
	}
	return nil, subsync.ErrSubscriptionNotFound
}

// ListPaymentsBySubscription implements subsync.Store.
func (s *Storage) ListPaymentsBySubscription(ctx context.Context, subscriptionID string) ([]subsync.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payments []subsync.Payment
	for _, p := range s.payments {
		if p.SubscriptionID == subscriptionID {
			payments = append(payments, *p)
		}
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].PaidAt.After(payments[j].PaidAt)
	})
	return payments, nil
}

// GetMember implements subsync.MemberStore.
func (s *Storage) GetMember(ctx context.Context, id string) (*subsync.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	member, ok := s.members[id]
	if !ok {
		return nil, subsync.ErrMemberNotFound
	}
	memberCopy := *member
	return &memberCopy, nil
}

// PutMember seeds a member record. Test and development helper; the
// application owns member creation in production.
func (s *Storage) PutMember(ctx context.Context, member *subsync.Member) error {
	if member == nil || member.ID == "" {
		return subsync.ErrMemberNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	memberCopy := *member
	s.members[member.ID] = &memberCopy
	return nil
}

// SetBillingCustomerRef implements subsync.MemberStore.
func (s *Storage) SetBillingCustomerRef(ctx context.Context, id, customerRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	member, ok := s.members[id]
	if !ok {
		return subsync.ErrMemberNotFound
	}
	member.BillingCustomerRef = customerRef
	return nil
}

// SetSubscriptionStatus implements subsync.MemberStore.
func (s *Storage) SetSubscriptionStatus(ctx context.Context, id string, status subsync.SubscriptionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	member, ok := s.members[id]
	if !ok {
		return subsync.ErrMemberNotFound
	}
	member.SubscriptionStatus = status
	return nil
}
