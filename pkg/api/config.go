package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/subsync"
)

// Config holds configuration for the subscription API handler
type Config struct {
	// Resolver answers entitlement queries (required)
	Resolver *subsync.Resolver

	// Provider is the billing provider whose webhook handler gets mounted.
	// Optional; without it only the query endpoints are registered.
	Provider billing.Provider

	// GetMemberID extracts the authenticated member ID from an HTTP request
	// (required). Authentication itself is the host application's job.
	GetMemberID func(*http.Request) string

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional; defaults to a no-op logger
	Logger subsync.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Resolver == nil {
		return fmt.Errorf("resolver is required")
	}
	if c.GetMemberID == nil {
		return fmt.Errorf("getMemberID is required")
	}
	return nil
}

// NewHandler creates a new subscription API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &subsync.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common member ID extraction patterns

// FromHeader returns a GetMemberID function that extracts the member ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetMemberID function that extracts the member ID from request context
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if memberID, ok := r.Context().Value(key).(string); ok {
			return memberID
		}
		return ""
	}
}
