package stripe

import (
	"encoding/json"
	"time"
)

// Event payloads are decoded from event.Data.Raw with local structs rather
// than the SDK's API types: across v83 API versions some fields (period
// ends, invoice subscription refs) moved or became expandable, and the raw
// JSON is the one stable surface the webhook actually receives.

// objectRef decodes a Stripe reference that arrives either as a bare id
// string or as an expanded object with an "id" field.
type objectRef string

func (r *objectRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*r = objectRef(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = objectRef(obj.ID)
	return nil
}

type subscriptionItemPayload struct {
	CurrentPeriodEnd int64 `json:"current_period_end"`
	Price            struct {
		ID         string `json:"id"`
		UnitAmount int64  `json:"unit_amount"`
	} `json:"price"`
}

type subscriptionPayload struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	CanceledAt       int64             `json:"canceled_at"`
	Items            struct {
		Data []subscriptionItemPayload `json:"data"`
	} `json:"items"`
}

// periodEnd returns the subscription's current billing-period end, or the
// zero time when the payload carries none. Newer API versions report the
// period on the items rather than the subscription.
func (s *subscriptionPayload) periodEnd() time.Time {
	end := s.CurrentPeriodEnd
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	if end == 0 {
		return time.Time{}
	}
	return time.Unix(end, 0).UTC()
}

// priceID returns the price id of the first subscription item, if any.
func (s *subscriptionPayload) priceID() string {
	if len(s.Items.Data) > 0 {
		return s.Items.Data[0].Price.ID
	}
	return ""
}

type invoicePayload struct {
	ID               string    `json:"id"`
	BillingReason    string    `json:"billing_reason"`
	AmountPaid       int64     `json:"amount_paid"`
	AmountDue        int64     `json:"amount_due"`
	HostedInvoiceURL string    `json:"hosted_invoice_url"`
	Subscription     objectRef `json:"subscription"`
	Parent           *struct {
		SubscriptionDetails *struct {
			Subscription objectRef `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
}

// subscriptionID returns the provider subscription this invoice belongs
// to, or "" for one-off invoices. Newer API versions nest the ref under
// parent.subscription_details.
func (i *invoicePayload) subscriptionID() string {
	if i.Subscription != "" {
		return string(i.Subscription)
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return string(i.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// periodEnd returns the end of the billing period this invoice covers, or
// the zero time when the payload carries none.
func (i *invoicePayload) periodEnd() time.Time {
	var end int64
	for _, line := range i.Lines.Data {
		if line.Period.End > end {
			end = line.Period.End
		}
	}
	if end == 0 {
		return time.Time{}
	}
	return time.Unix(end, 0).UTC()
}

// paidAt returns when the invoice was paid, falling back to the given
// event time when the payload carries no transition timestamp.
func (i *invoicePayload) paidAt(fallback time.Time) time.Time {
	if i.StatusTransitions.PaidAt > 0 {
		return time.Unix(i.StatusTransitions.PaidAt, 0).UTC()
	}
	return fallback
}

type checkoutSessionPayload struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
	Customer objectRef         `json:"customer"`

	// Subscription may be a bare id or, when the session is expanded, the
	// full object; keep the raw bytes so both the id and the embedded
	// billing-period end can be recovered.
	Subscription json.RawMessage `json:"subscription"`

	AmountTotal int64 `json:"amount_total"`
}

// subscriptionRef returns the provider subscription id the session
// created, or "" for non-subscription checkouts.
func (c *checkoutSessionPayload) subscriptionRef() string {
	if len(c.Subscription) == 0 {
		return ""
	}
	var ref objectRef
	if err := json.Unmarshal(c.Subscription, &ref); err != nil {
		return ""
	}
	return string(ref)
}

// embeddedSubscription returns the expanded subscription object when the
// session carries one, or nil when only a bare id was delivered.
func (c *checkoutSessionPayload) embeddedSubscription() *subscriptionPayload {
	if len(c.Subscription) == 0 || c.Subscription[0] != '{' {
		return nil
	}
	var sub subscriptionPayload
	if err := json.Unmarshal(c.Subscription, &sub); err != nil {
		return nil
	}
	return &sub
}
