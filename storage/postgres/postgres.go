// Package postgres provides a PostgreSQL implementation of the subsync
// Store and MemberStore interfaces. Idempotent payment recording relies
// on a conditional insert against the payment external-ref unique
// constraint, so concurrent webhook deliveries collapse to one row.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/subsync/pkg/subsync"
)

// Storage implements subsync.Store and subsync.MemberStore using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Apply pool settings
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{
		pool:   pool,
		config: config,
	}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// FindByExternalRef implements subsync.Store
func (s *Storage) FindByExternalRef(ctx context.Context, externalRef string) (*subsync.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, member_id, external_ref, plan, billing_period, status, amount,
				start_date, next_billing_date, end_date, created_at, updated_at
			FROM subscriptions WHERE external_ref = $1`,
		externalRef)

	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subsync.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// UpsertSubscription implements subsync.Store. The external ref is the
// conflict key; the internal id and created_at survive updates.
func (s *Storage) UpsertSubscription(ctx context.Context, sub *subsync.Subscription) error {
	if sub == nil || sub.ExternalRef == "" || sub.MemberID == "" {
		return subsync.ErrInvalidSubscription
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions
				(id, member_id, external_ref, plan, billing_period, status, amount,
				 start_date, next_billing_date, end_date, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (external_ref) DO UPDATE SET
				member_id = EXCLUDED.member_id,
				plan = EXCLUDED.plan,
				billing_period = EXCLUDED.billing_period,
				status = EXCLUDED.status,
				amount = EXCLUDED.amount,
				start_date = EXCLUDED.start_date,
				next_billing_date = EXCLUDED.next_billing_date,
				end_date = EXCLUDED.end_date,
				updated_at = EXCLUDED.updated_at`,
		sub.ID, sub.MemberID, sub.ExternalRef, string(sub.Plan), string(sub.Period),
		string(sub.Status), sub.Amount, sub.StartDate, sub.NextBillingDate,
		sub.EndDate, sub.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// InsertPaymentIfAbsent implements subsync.Store. The conditional insert
// and the existing-row read happen against the same unique constraint, so
// a redelivered event observes exactly the row the first delivery wrote.
func (s *Storage) InsertPaymentIfAbsent(ctx context.Context, payment *subsync.Payment) (*subsync.Payment, bool, error) {
	if payment == nil || payment.ExternalRef == "" || payment.SubscriptionID == "" {
		return nil, false, subsync.ErrInvalidPayment
	}

	var insertedID string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO payments
				(id, subscription_id, member_id, external_ref, amount, status, paid_at, invoice_url, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (external_ref) DO NOTHING
			RETURNING id`,
		payment.ID, payment.SubscriptionID, payment.MemberID, payment.ExternalRef,
		payment.Amount, string(payment.Status), payment.PaidAt,
		payment.InvoiceURL, time.Now().UTC(),
	).Scan(&insertedID)

	if err == nil {
		inserted := *payment
		inserted.ID = insertedID
		return &inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert payment: %w", err)
	}

	// Conflict: another delivery already recorded this payment
	row := s.pool.QueryRow(ctx,
		`SELECT id, subscription_id, member_id, external_ref, amount, status, paid_at, invoice_url
			FROM payments WHERE external_ref = $1`,
		payment.ExternalRef)

	existing, err := scanPayment(row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get existing payment: %w", err)
	}
	return existing, false, nil
}

// FindActiveByMember implements subsync.Store. A member holds at most one
// live subscription; the newest wins if historical data violates that.
func (s *Storage) FindActiveByMember(ctx context.Context, memberID string) (*subsync.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, member_id, external_ref, plan, billing_period, status, amount,
				start_date, next_billing_date, end_date, created_at, updated_at
			FROM subscriptions
			WHERE member_id = $1 AND status IN ($2, $3)
			ORDER BY created_at DESC
			LIMIT 1`,
		memberID, string(subsync.StatusActive), string(subsync.StatusPastDue))

	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subsync.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscription: %w", err)
	}
	return sub, nil
}

// ListPaymentsBySubscription implements subsync.Store
func (s *Storage) ListPaymentsBySubscription(ctx context.Context, subscriptionID string) ([]subsync.Payment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, subscription_id, member_id, external_ref, amount, status, paid_at, invoice_url
			FROM payments
			WHERE subscription_id = $1
			ORDER BY paid_at DESC`,
		subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []subsync.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// GetMember implements subsync.MemberStore
func (s *Storage) GetMember(ctx context.Context, id string) (*subsync.Member, error) {
	var member subsync.Member
	var customerRef *string
	var status *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, billing_customer_ref, subscription_status
			FROM members WHERE id = $1`,
		id).Scan(&member.ID, &customerRef, &status)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subsync.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	if customerRef != nil {
		member.BillingCustomerRef = *customerRef
	}
	if status != nil {
		member.SubscriptionStatus = subsync.SubscriptionStatus(*status)
	}
	return &member, nil
}

// PutMember inserts a member row if it does not already exist
func (s *Storage) PutMember(ctx context.Context, member *subsync.Member) error {
	if member == nil || member.ID == "" {
		return subsync.ErrMemberNotFound
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO members (id, billing_customer_ref, subscription_status)
			VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
			ON CONFLICT (id) DO NOTHING`,
		member.ID, member.BillingCustomerRef, string(member.SubscriptionStatus))
	if err != nil {
		return fmt.Errorf("failed to put member: %w", err)
	}
	return nil
}

// SetBillingCustomerRef implements subsync.MemberStore
func (s *Storage) SetBillingCustomerRef(ctx context.Context, id, customerRef string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE members SET billing_customer_ref = $1 WHERE id = $2`,
		customerRef, id)
	if err != nil {
		return fmt.Errorf("failed to set billing customer ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subsync.ErrMemberNotFound
	}
	return nil
}

// SetSubscriptionStatus implements subsync.MemberStore
func (s *Storage) SetSubscriptionStatus(ctx context.Context, id string, status subsync.SubscriptionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE members SET subscription_status = $1 WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("failed to set subscription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subsync.ErrMemberNotFound
	}
	return nil
}

func scanSubscription(row pgx.Row) (*subsync.Subscription, error) {
	var sub subsync.Subscription
	var plan, period, status string
	var endDate *time.Time

	err := row.Scan(
		&sub.ID,
		&sub.MemberID,
		&sub.ExternalRef,
		&plan,
		&period,
		&status,
		&sub.Amount,
		&sub.StartDate,
		&sub.NextBillingDate,
		&endDate,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Plan = subsync.PlanType(plan)
	sub.Period = subsync.BillingPeriod(period)
	sub.Status = subsync.SubscriptionStatus(status)
	sub.EndDate = endDate
	return &sub, nil
}

func scanPayment(row pgx.Row) (*subsync.Payment, error) {
	var p subsync.Payment
	var status string
	var invoiceURL *string

	err := row.Scan(
		&p.ID,
		&p.SubscriptionID,
		&p.MemberID,
		&p.ExternalRef,
		&p.Amount,
		&status,
		&p.PaidAt,
		&invoiceURL,
	)
	if err != nil {
		return nil, err
	}

	p.Status = subsync.PaymentStatus(status)
	if invoiceURL != nil {
		p.InvoiceURL = *invoiceURL
	}
	return &p, nil
}
