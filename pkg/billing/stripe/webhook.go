package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/billing/internal"
	"github.com/mihaimyh/subsync/pkg/subsync"
)

// handleWebhook processes incoming Stripe webhook events.
//
// Response contract (what Stripe's redelivery reacts to):
//   - 200: processed, acknowledged, or intentionally ignored
//   - 400: signature failure or malformed payload; no state was touched
//   - 5xx: transient processing failure; redelivery is the recovery path,
//     which is safe because every transition handler is idempotent
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Read and validate the raw body (with size limit protection). The
	// signature covers the exact bytes, so nothing parses JSON before
	// ConstructEvent has verified it.
	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodySize)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	// Fails closed: missing header, wrong secret, or tampered body all
	// reject here with no further processing.
	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	outcome, err := p.processEvent(r.Context(), &event)
	if err != nil {
		if errors.Is(err, billing.ErrMissingCorrelationMetadata) {
			// Data-integrity error: the event cannot be linked to a member
			// and redelivery cannot fix that. Acknowledge to stop the
			// redelivery loop and leave the rest to the operator.
			p.logger.Error("webhook event has no usable correlation metadata",
				subsync.Field{Key: "event_id", Value: event.ID},
				subsync.Field{Key: "event_type", Value: eventType},
				subsync.Field{Key: "error", Value: err.Error()},
			)
			p.metrics.RecordWebhookEvent(providerName, eventType, string(billing.OutcomeAcknowledged))
			p.metrics.RecordWebhookError(providerName, "missing_correlation_metadata")
			p.writeOK(w)
			p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
			return
		}

		p.logger.Error("webhook event processing failed",
			subsync.Field{Key: "event_id", Value: event.ID},
			subsync.Field{Key: "event_type", Value: eventType},
			subsync.Field{Key: "error", Value: err.Error()},
		)
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	p.writeOK(w)
	p.metrics.RecordWebhookEvent(providerName, eventType, string(outcome))
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// processEvent dispatches a verified event to its transition handler.
// Unknown event types are acknowledged and ignored so forward-compatible
// provider changes never trigger redelivery storms.
func (p *Provider) processEvent(ctx context.Context, event *stripe.Event) (billing.Outcome, error) {
	eventTime := time.Unix(event.Created, 0).UTC()

	switch event.Type {
	case "checkout.session.completed":
		return p.createSubscription(ctx, event, eventTime)
	case "invoice.payment_succeeded":
		return p.recordPaymentSuccess(ctx, event, eventTime)
	case "invoice.payment_failed":
		return p.recordPaymentFailure(ctx, event, eventTime)
	case "customer.subscription.updated":
		return p.reconcileSubscription(ctx, event, eventTime)
	case "customer.subscription.deleted":
		return p.terminateSubscription(ctx, event, eventTime)
	default:
		p.logger.Debug("ignoring unhandled webhook event type",
			subsync.Field{Key: "event_type", Value: string(event.Type)},
		)
		return billing.OutcomeIgnored, nil
	}
}

func (p *Provider) writeOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
