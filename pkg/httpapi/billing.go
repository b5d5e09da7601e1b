package httpapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/raywall/gifted-service/pkg/checkout"
	"github.com/raywall/gifted-service/pkg/session"
)

const stripeSignatureHeader = "Stripe-Signature"

// stripeWebhook answers 2xx only when the event was applied or ignored, so
// the billing system redelivers everything else.
func (h *handlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadBody, err))
		return
	}
	if err := h.Billing.HandleWebhook(r.Context(), payload, r.Header.Get(stripeSignatureHeader)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *handlers) subscription(w http.ResponseWriter, r *http.Request, p *session.Principal) {
	overview, err := h.Billing.Overview(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (h *handlers) cancelSubscription(w http.ResponseWriter, r *http.Request, p *session.Principal) {
	sub, err := h.Billing.Cancel(r.Context(), p.UserID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscription": sub})
}

func (h *handlers) createCheckout(w http.ResponseWriter, r *http.Request, p *session.Principal) {
	var req checkout.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := h.Checkout.CreateSession(r.Context(), p.UserID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
