package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/subsync/pkg/subsync"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	// Clear test database
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	return client
}

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()

	storage, err := New(setupTestRedis(t), DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return storage
}

func testSubscription(memberID, externalRef string) *subsync.Subscription {
	now := time.Now().UTC().Truncate(time.Second)
	return &subsync.Subscription{
		ID:              "local-" + externalRef,
		MemberID:        memberID,
		ExternalRef:     externalRef,
		Plan:            subsync.PlanStandard,
		Period:          subsync.BillingMonthly,
		Status:          subsync.StatusActive,
		Amount:          19.99,
		StartDate:       now,
		NextBillingDate: now.AddDate(0, 1, 0),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestNew(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Error("Expected error for nil client")
	}

	storage, err := New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}), Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if storage.config.KeyPrefix != "subsync:" {
		t.Errorf("Expected default key prefix, got %s", storage.config.KeyPrefix)
	}
}

func TestUpsertAndFind(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	if _, err := storage.FindByExternalRef(ctx, "sub_missing"); err != subsync.ErrSubscriptionNotFound {
		t.Errorf("Expected ErrSubscriptionNotFound, got %v", err)
	}

	sub := testSubscription("member-1", "sub_ext_1")
	if err := storage.UpsertSubscription(ctx, sub); err != nil {
		t.Fatalf("UpsertSubscription failed: %v", err)
	}

	retrieved, err := storage.FindByExternalRef(ctx, "sub_ext_1")
	if err != nil {
		t.Fatalf("FindByExternalRef failed: %v", err)
	}
	if retrieved.MemberID != "member-1" || retrieved.Amount != 19.99 {
		t.Errorf("Unexpected subscription: %+v", retrieved)
	}

	// Upsert with a different local id; identity must be preserved
	updated := *sub
	updated.ID = "local-other"
	updated.Status = subsync.StatusPastDue
	if err := storage.UpsertSubscription(ctx, &updated); err != nil {
		t.Fatalf("UpsertSubscription (update) failed: %v", err)
	}

	retrieved, err = storage.FindByExternalRef(ctx, "sub_ext_1")
	if err != nil {
		t.Fatalf("FindByExternalRef failed: %v", err)
	}
	if retrieved.ID != "local-sub_ext_1" {
		t.Errorf("Internal id should survive upsert, got %s", retrieved.ID)
	}
	if retrieved.Status != subsync.StatusPastDue {
		t.Errorf("Status should update, got %s", retrieved.Status)
	}
}

func TestInsertPaymentIfAbsent(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	payment := &subsync.Payment{
		ID:             "pay-1",
		SubscriptionID: "local-sub_ext_1",
		ExternalRef:    "in_1",
		Amount:         19.99,
		Status:         subsync.PaymentSucceeded,
		PaidAt:         time.Now().UTC().Truncate(time.Second),
	}

	got, created, err := storage.InsertPaymentIfAbsent(ctx, payment)
	if err != nil {
		t.Fatalf("InsertPaymentIfAbsent failed: %v", err)
	}
	if !created || got.ID != "pay-1" {
		t.Errorf("Expected winning insert of pay-1, got created=%v id=%s", created, got.ID)
	}

	dup := *payment
	dup.ID = "pay-2"
	got, created, err = storage.InsertPaymentIfAbsent(ctx, &dup)
	if err != nil {
		t.Fatalf("InsertPaymentIfAbsent (dup) failed: %v", err)
	}
	if created {
		t.Error("Expected duplicate insert to lose")
	}
	if got.ID != "pay-1" {
		t.Errorf("Expected original row back, got %s", got.ID)
	}
}

func TestInsertPaymentIfAbsentConcurrent(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, created, err := storage.InsertPaymentIfAbsent(ctx, &subsync.Payment{
				ID:             fmt.Sprintf("pay-racy-%d", n),
				SubscriptionID: "local-sub_ext_1",
				ExternalRef:    "in_racy",
				Amount:         19.99,
				Status:         subsync.PaymentSucceeded,
				PaidAt:         time.Now().UTC(),
			})
			if err != nil {
				t.Errorf("InsertPaymentIfAbsent failed: %v", err)
				return
			}
			results <- created
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for created := range results {
		if created {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("Expected exactly 1 winning insert, got %d", wins)
	}
}

func TestFindActiveByMember(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	if _, err := storage.FindActiveByMember(ctx, "member-1"); err != subsync.ErrSubscriptionNotFound {
		t.Errorf("Expected ErrSubscriptionNotFound, got %v", err)
	}

	cancelled := testSubscription("member-1", "sub_old")
	cancelled.Status = subsync.StatusCancelled
	if err := storage.UpsertSubscription(ctx, cancelled); err != nil {
		t.Fatalf("UpsertSubscription failed: %v", err)
	}
	if _, err := storage.FindActiveByMember(ctx, "member-1"); err != subsync.ErrSubscriptionNotFound {
		t.Errorf("Cancelled subscription should not be live, got %v", err)
	}

	active := testSubscription("member-1", "sub_new")
	if err := storage.UpsertSubscription(ctx, active); err != nil {
		t.Fatalf("UpsertSubscription failed: %v", err)
	}

	live, err := storage.FindActiveByMember(ctx, "member-1")
	if err != nil {
		t.Fatalf("FindActiveByMember failed: %v", err)
	}
	if live.ExternalRef != "sub_new" {
		t.Errorf("Expected sub_new, got %s", live.ExternalRef)
	}
}

func TestListPaymentsBySubscription(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, ref := range []string{"in_1", "in_2", "in_3"} {
		_, created, err := storage.InsertPaymentIfAbsent(ctx, &subsync.Payment{
			ID:             ref + "-local",
			SubscriptionID: "local-sub_ext_1",
			ExternalRef:    ref,
			Amount:         19.99,
			Status:         subsync.PaymentSucceeded,
			PaidAt:         base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil || !created {
			t.Fatalf("InsertPaymentIfAbsent failed: created=%v err=%v", created, err)
		}
	}

	payments, err := storage.ListPaymentsBySubscription(ctx, "local-sub_ext_1")
	if err != nil {
		t.Fatalf("ListPaymentsBySubscription failed: %v", err)
	}
	if len(payments) != 3 {
		t.Fatalf("Expected 3 payments, got %d", len(payments))
	}
	if payments[0].ExternalRef != "in_3" {
		t.Errorf("Expected newest first, got %s", payments[0].ExternalRef)
	}
}

func TestMemberStore(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	if _, err := storage.GetMember(ctx, "member-1"); err != subsync.ErrMemberNotFound {
		t.Errorf("Expected ErrMemberNotFound, got %v", err)
	}

	if err := storage.PutMember(ctx, &subsync.Member{ID: "member-1"}); err != nil {
		t.Fatalf("PutMember failed: %v", err)
	}
	if err := storage.SetBillingCustomerRef(ctx, "member-1", "cus_123"); err != nil {
		t.Fatalf("SetBillingCustomerRef failed: %v", err)
	}
	if err := storage.SetSubscriptionStatus(ctx, "member-1", subsync.StatusActive); err != nil {
		t.Fatalf("SetSubscriptionStatus failed: %v", err)
	}

	member, err := storage.GetMember(ctx, "member-1")
	if err != nil {
		t.Fatalf("GetMember failed: %v", err)
	}
	if member.BillingCustomerRef != "cus_123" || member.SubscriptionStatus != subsync.StatusActive {
		t.Errorf("Unexpected member: %+v", member)
	}

	if err := storage.SetBillingCustomerRef(ctx, "ghost", "cus_x"); err != subsync.ErrMemberNotFound {
		t.Errorf("Expected ErrMemberNotFound, got %v", err)
	}
}
