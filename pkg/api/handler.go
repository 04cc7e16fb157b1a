// Package api exposes the engine over HTTP: the provider webhook
// endpoint and the entitlement query, wired onto a chi router supplied
// by the host application.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/subsync/pkg/subsync"
)

const maxMemberIDLen = 255

// Handler provides HTTP endpoints for subscription state inspection
type Handler struct {
	config Config
}

// RegisterRoutes mounts the engine's endpoints on the given router:
//
//	POST /webhooks/billing      provider webhook ingestion
//	GET  /subscription-status   entitlement query for the current member
func (h *Handler) RegisterRoutes(r chi.Router) {
	if h.config.Provider != nil {
		r.Method(http.MethodPost, "/webhooks/billing", h.config.Provider.WebhookHandler())
	}
	r.Get("/subscription-status", h.GetSubscriptionStatus)
}

// GetSubscriptionStatus returns the member's effective plan, status and
// feature set as JSON. Members without a live subscription get the free
// tier, not an error.
func (h *Handler) GetSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	memberID := h.config.GetMemberID(r)
	if memberID == "" {
		h.handleError(w, r, fmt.Errorf("member ID not found"), http.StatusUnauthorized)
		return
	}
	if len(memberID) > maxMemberIDLen {
		h.handleError(w, r, fmt.Errorf("invalid member ID format"), http.StatusBadRequest)
		return
	}

	view, err := h.config.Resolver.Resolve(ctx, memberID)
	if err != nil {
		h.config.Logger.Error("entitlement resolution failed",
			subsync.Field{Key: "member_id", Value: memberID},
			subsync.Field{Key: "error", Value: err.Error()},
		)
		h.handleError(w, r, fmt.Errorf("failed to resolve subscription status"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(view); err != nil {
		// Response already sent, nothing to recover
		return
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	errorResponse := map[string]string{
		"error": err.Error(),
	}
	if encodeErr := json.NewEncoder(w).Encode(errorResponse); encodeErr != nil {
		_ = encodeErr
	}
}
