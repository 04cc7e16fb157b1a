// Package stripe implements the billing.Provider interface against Stripe.
// It owns the webhook ingestion pipeline (signature verification, event
// routing, transition handlers), checkout/portal session creation, and
// member reconciliation.
package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/billing/internal"
	"github.com/mihaimyh/subsync/pkg/subsync"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodySize       = 256 * 1024

	// Correlation metadata keys stamped on the provider subscription at
	// checkout creation. This metadata is the only channel connecting an
	// internal member to a provider subscription.
	metadataKeyMemberID      = "member_id"
	metadataKeyPlan          = "plan"
	metadataKeyBillingPeriod = "billing_period"

	// billingReasonSubscriptionCreate marks a subscription's first invoice.
	// That revenue event is already captured by subscription creation, so
	// the payment handler skips it to avoid double-counting.
	billingReasonSubscriptionCreate = "subscription_create"
)

// Price describes what a Stripe price id sells.
type Price struct {
	Plan   subsync.PlanType
	Period subsync.BillingPeriod
}

// Config extends billing.Config with Stripe-specific options.
type Config struct {
	billing.Config // Base config (Store, Members, Logger, Metrics, ...)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string

	// PriceMapping maps Stripe price ids to plans. Used both ways: checkout
	// resolves (plan, period) to a price id, and subscription-updated events
	// resolve a price id back to a plan. Price ids not in the mapping are an
	// explicit unmapped case logged for operator attention, never guessed.
	PriceMapping map[string]Price
}

// Provider implements the billing.Provider interface for Stripe.
type Provider struct {
	store         subsync.Store
	members       subsync.MemberStore
	config        Config
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	priceMapping  map[string]Price
	webhookSecret []byte
	apiKey        string
	stripeClient  *stripe.Client
	logger        subsync.Logger
	metrics       billing.Metrics
}

// NewProvider creates a new Stripe billing provider. Configuration is
// validated here, at startup, so a missing secret fails the process
// instead of surfacing as scattered nil-checks in handlers.
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil || config.Members == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	webhookSecret := strings.TrimSpace(config.StripeWebhookSecret)
	if webhookSecret == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	priceMapping := make(map[string]Price, len(config.PriceMapping))
	for id, price := range config.PriceMapping {
		priceMapping[strings.ToLower(strings.TrimSpace(id))] = price
	}

	logger := config.Logger
	if logger == nil {
		logger = &subsync.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		store:         config.Store,
		members:       config.Members,
		config:        config,
		httpClient:    httpClient,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		priceMapping:  priceMapping,
		webhookSecret: []byte(webhookSecret),
		apiKey:        apiKey,
		stripeClient:  stripe.NewClient(apiKey),
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks, wrapped
// with per-IP rate limiting.
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// planForPrice maps a Stripe price id to a plan. The second return value
// is false for unmapped price ids.
func (p *Provider) planForPrice(priceID string) (Price, bool) {
	price, ok := p.priceMapping[strings.ToLower(strings.TrimSpace(priceID))]
	return price, ok
}

// priceIDForPlan is the reverse of planForPrice: it resolves the Stripe
// price id selling the given plan and billing period.
func (p *Provider) priceIDForPlan(plan subsync.PlanType, period subsync.BillingPeriod) string {
	for priceID, price := range p.priceMapping {
		if price.Plan == plan && price.Period == period {
			return priceID
		}
	}
	return ""
}
