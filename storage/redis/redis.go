// Package redis provides a Redis implementation of the subsync Store and
// MemberStore interfaces. The conditional payment insert runs as a Lua
// script so concurrent webhook deliveries observe a single winner.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/subsync/pkg/subsync"
)

// Storage implements subsync.Store and subsync.MemberStore using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "subsync:")
	KeyPrefix string

	// SubscriptionTTL is the TTL for subscription keys (0 = no expiration)
	SubscriptionTTL time.Duration

	// PaymentTTL is the TTL for payment keys (0 = no expiration). Payments
	// are the idempotency ledger; expiring them reopens the door to
	// duplicate rows on very late redeliveries.
	PaymentTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:       "subsync:",
		SubscriptionTTL: 0,
		PaymentTTL:      0,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "subsync:"
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()

	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Storage) loadScripts() {
	// Insert a payment only if its external ref is unseen, and index it
	// under its subscription. Returns {createdFlag, storedJSON}.
	s.scripts["insertPayment"] = redis.NewScript(`
		local paymentKey = KEYS[1]
		local indexKey = KEYS[2]
		local data = ARGV[1]
		local ref = ARGV[2]
		local ttl = tonumber(ARGV[3])

		local existing = redis.call('GET', paymentKey)
		if existing then
			return {0, existing}
		end

		redis.call('SET', paymentKey, data)
		redis.call('SADD', indexKey, ref)
		if ttl > 0 then
			redis.call('EXPIRE', paymentKey, ttl)
			redis.call('EXPIRE', indexKey, ttl)
		end

		return {1, data}
	`)

	// Upsert a subscription preserving the internal id and created_at of
	// an existing record, and index it under its member.
	s.scripts["upsertSubscription"] = redis.NewScript(`
		local subKey = KEYS[1]
		local indexKey = KEYS[2]
		local data = ARGV[1]
		local ref = ARGV[2]
		local ttl = tonumber(ARGV[3])

		local existing = redis.call('GET', subKey)
		if existing then
			local old = cjson.decode(existing)
			local new = cjson.decode(data)
			new['ID'] = old['ID']
			new['CreatedAt'] = old['CreatedAt']
			data = cjson.encode(new)
		end

		redis.call('SET', subKey, data)
		redis.call('SADD', indexKey, ref)
		if ttl > 0 then
			redis.call('EXPIRE', subKey, ttl)
		end

		return 'ok'
	`)
}

func (s *Storage) subscriptionKey(externalRef string) string {
	return s.config.KeyPrefix + "sub:" + externalRef
}

func (s *Storage) memberSubsKey(memberID string) string {
	return s.config.KeyPrefix + "member_subs:" + memberID
}

func (s *Storage) paymentKey(externalRef string) string {
	return s.config.KeyPrefix + "payment:" + externalRef
}

func (s *Storage) subPaymentsKey(subscriptionID string) string {
	return s.config.KeyPrefix + "sub_payments:" + subscriptionID
}

func (s *Storage) memberKey(id string) string {
	return s.config.KeyPrefix + "member:" + id
}

// FindByExternalRef implements subsync.Store
func (s *Storage) FindByExternalRef(ctx context.Context, externalRef string) (*subsync.Subscription, error) {
	data, err := s.client.Get(ctx, s.subscriptionKey(externalRef)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, subsync.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	var sub subsync.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %w", err)
	}
	return &sub, nil
}

// UpsertSubscription implements subsync.Store
func (s *Storage) UpsertSubscription(ctx context.Context, sub *subsync.Subscription) error {
	if sub == nil || sub.ExternalRef == "" || sub.MemberID == "" {
		return subsync.ErrInvalidSubscription
	}

	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}

	err = s.scripts["upsertSubscription"].Run(ctx, s.client,
		[]string{s.subscriptionKey(sub.ExternalRef), s.memberSubsKey(sub.MemberID)},
		string(data), sub.ExternalRef, int(s.config.SubscriptionTTL.Seconds()),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// InsertPaymentIfAbsent implements subsync.Store
func (s *Storage) InsertPaymentIfAbsent(ctx context.Context, payment *subsync.Payment) (*subsync.Payment, bool, error) {
	if payment == nil || payment.ExternalRef == "" || payment.SubscriptionID == "" {
		return nil, false, subsync.ErrInvalidPayment
	}

	data, err := json.Marshal(payment)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode payment: %w", err)
	}

	result, err := s.scripts["insertPayment"].Run(ctx, s.client,
		[]string{s.paymentKey(payment.ExternalRef), s.subPaymentsKey(payment.SubscriptionID)},
		string(data), payment.ExternalRef, int(s.config.PaymentTTL.Seconds()),
	).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert payment: %w", err)
	}
	if len(result) != 2 {
		return nil, false, fmt.Errorf("unexpected script result: %v", result)
	}

	created, _ := result[0].(int64)
	stored, _ := result[1].(string)

	var out subsync.Payment
	if err := json.Unmarshal([]byte(stored), &out); err != nil {
		return nil, false, fmt.Errorf("failed to decode payment: %w", err)
	}
	return &out, created == 1, nil
}

// FindActiveByMember implements subsync.Store
func (s *Storage) FindActiveByMember(ctx context.Context, memberID string) (*subsync.Subscription, error) {
	refs, err := s.client.SMembers(ctx, s.memberSubsKey(memberID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list member subscriptions: %w", err)
	}

	for _, ref := range refs {
		sub, err := s.FindByExternalRef(ctx, ref)
		if errors.Is(err, subsync.ErrSubscriptionNotFound) {
			continue // expired or deleted key, the index is best-effort
		}
		if err != nil {
			return nil, err
		}
		if sub.Live() {
			return sub, nil
		}
	}
	return nil, subsync.ErrSubscriptionNotFound
}

// ListPaymentsBySubscription implements subsync.Store
func (s *Storage) ListPaymentsBySubscription(ctx context.Context, subscriptionID string) ([]subsync.Payment, error) {
	refs, err := s.client.SMembers(ctx, s.subPaymentsKey(subscriptionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list payment refs: %w", err)
	}
	if len(refs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = s.paymentKey(ref)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get payments: %w", err)
	}

	var payments []subsync.Payment
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var p subsync.Payment
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			return nil, fmt.Errorf("failed to decode payment: %w", err)
		}
		payments = append(payments, p)
	}

	// Newest first
	for i := 0; i < len(payments); i++ {
		for j := i + 1; j < len(payments); j++ {
			if payments[j].PaidAt.After(payments[i].PaidAt) {
				payments[i], payments[j] = payments[j], payments[i]
			}
		}
	}
	return payments, nil
}

// GetMember implements subsync.MemberStore
func (s *Storage) GetMember(ctx context.Context, id string) (*subsync.Member, error) {
	data, err := s.client.Get(ctx, s.memberKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, subsync.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	var member subsync.Member
	if err := json.Unmarshal(data, &member); err != nil {
		return nil, fmt.Errorf("failed to decode member: %w", err)
	}
	return &member, nil
}

// PutMember stores a member record
func (s *Storage) PutMember(ctx context.Context, member *subsync.Member) error {
	if member == nil || member.ID == "" {
		return subsync.ErrMemberNotFound
	}

	data, err := json.Marshal(member)
	if err != nil {
		return fmt.Errorf("failed to encode member: %w", err)
	}
	if err := s.client.Set(ctx, s.memberKey(member.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to put member: %w", err)
	}
	return nil
}

// SetBillingCustomerRef implements subsync.MemberStore
func (s *Storage) SetBillingCustomerRef(ctx context.Context, id, customerRef string) error {
	member, err := s.GetMember(ctx, id)
	if err != nil {
		return err
	}
	member.BillingCustomerRef = customerRef
	return s.PutMember(ctx, member)
}

// SetSubscriptionStatus implements subsync.MemberStore
func (s *Storage) SetSubscriptionStatus(ctx context.Context, id string, status subsync.SubscriptionStatus) error {
	member, err := s.GetMember(ctx, id)
	if err != nil {
		return err
	}
	member.SubscriptionStatus = status
	return s.PutMember(ctx, member)
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
