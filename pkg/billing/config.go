package billing

import (
	"net/http"

	"github.com/mihaimyh/subsync/pkg/subsync"
)

// Config defines the standard configuration all providers should accept.
type Config struct {
	// Store persists subscriptions and payments (required).
	Store subsync.Store

	// Members grants read/write access to the application's member records
	// (required). The engine only touches the billing fields.
	Members subsync.MemberStore

	// WebhookSecret is used to verify incoming webhook requests against the
	// provider's signature scheme.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider
	// (checkout sessions, reconciliation).
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	// Allows custom timeouts, proxies, or instrumentation.
	HTTPClient *http.Client

	// Logger is an optional structured logger. If nil, logging is a no-op.
	Logger subsync.Logger

	// Metrics is an optional metrics collector for billing operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.NewMetrics for Prometheus metrics.
	Metrics Metrics
}
