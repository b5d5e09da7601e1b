package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/raywall/gifted-service/pkg/newsletter"
)

var outcomeMessages = map[newsletter.Outcome]string{
	newsletter.VerificationSent:   "Please check your email to confirm your subscription",
	newsletter.VerificationResent: "Verification email sent again",
	newsletter.AlreadySubscribed:  "Email already subscribed",
	newsletter.Verified:           "Email verified successfully",
	newsletter.AlreadyVerified:    "Email already verified",
}

type outcomeBody struct {
	Outcome newsletter.Outcome `json:"outcome"`
	Message string             `json:"message"`
}

func (h *handlers) subscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	outcome, err := h.Newsletter.Subscribe(r.Context(), body.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeBody{Outcome: outcome, Message: outcomeMessages[outcome]})
}

func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	outcome, err := h.Newsletter.Verify(r.Context(), q.Get("email"), q.Get("token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeBody{Outcome: outcome, Message: outcomeMessages[outcome]})
}

func (h *handlers) unsubscribe(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if err := h.Newsletter.Unsubscribe(r.Context(), email); err != nil {
		writeError(w, r, err)
		return
	}
	target := strings.TrimRight(h.AppURL, "/") + "/unsubscribed?email=" + url.QueryEscape(email)
	http.Redirect(w, r, target, http.StatusFound)
}

// sesEvents receives SNS HTTP deliveries of SES feedback.
func (h *handlers) sesEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadBody, err))
		return
	}
	if err := h.Newsletter.HandleEnvelope(r.Context(), body); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
