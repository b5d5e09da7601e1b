package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/accounts"
	"github.com/raywall/gifted-service/pkg/newsletter"
	"github.com/raywall/gifted-service/pkg/session"
	"github.com/rs/zerolog/log"
)

const oauthStateCookie = "gifted.oauth-state"

type sessionBody struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expiresAt"`
	User      *session.Principal `json:"user"`
}

// startSession issues a token for user, sets the cookie and returns the
// response body.
func (h *handlers) startSession(w http.ResponseWriter, user *keyspace.User) (*sessionBody, error) {
	token, expires, err := h.Sessions.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, h.Sessions.Cookie(token, expires, h.SecureCookies))
	return &sessionBody{
		Token:     token,
		ExpiresAt: expires,
		User:      &session.Principal{UserID: user.ID, Email: user.Email},
	}, nil
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var in accounts.Registration
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.Accounts.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (h *handlers) credentials(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.Accounts.Authenticate(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.startSession(w, user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// emailSignIn mails a one-time sign-in link. The answer is the same whether
// or not an account exists for the address.
func (h *handlers) emailSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	email := keyspace.NormalizeEmail(body.Email)
	if err := h.valid.Var(email, "required,email"); err != nil {
		writeError(w, r, newsletter.ErrInvalidEmail)
		return
	}

	token, err := h.Sessions.IssueSignInLink(email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	link := strings.TrimRight(h.AppURL, "/") + "/api/auth/callback/email?token=" + url.QueryEscape(token)
	if err := h.Mailer.SendSignInLink(r.Context(), email, link); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

func (h *handlers) emailCallback(w http.ResponseWriter, r *http.Request) {
	email, err := h.Sessions.VerifySignInLink(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.Accounts.FindOrCreate(r.Context(), email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.startSession(w, user); err != nil {
		writeError(w, r, err)
		return
	}
	log.Ctx(r.Context()).Info().Str("user_id", user.ID).Msg("email sign-in completed")
	http.Redirect(w, r, strings.TrimRight(h.AppURL, "/")+"/dashboard", http.StatusFound)
}

// googleStart sends the browser to the consent page. The state travels in a
// short-lived cookie and must come back unchanged on the callback.
func (h *handlers) googleStart(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.Google.AuthCodeURL(state), http.StatusFound)
}

func (h *handlers) googleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || q.Get("state") != cookie.Value {
		writeError(w, r, fmt.Errorf("%w: oauth state mismatch", session.ErrUnauthenticated))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/api/auth", MaxAge: -1, HttpOnly: true, Secure: h.SecureCookies})

	if reason := q.Get("error"); reason != "" {
		writeError(w, r, fmt.Errorf("%w: google sign-in declined: %s", session.ErrUnauthenticated, reason))
		return
	}
	id, err := h.Google.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("google code exchange failed")
		writeError(w, r, fmt.Errorf("%w: google sign-in failed", session.ErrUnauthenticated))
		return
	}
	user, err := h.Accounts.FindOrCreate(r.Context(), id.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.startSession(w, user); err != nil {
		writeError(w, r, err)
		return
	}
	log.Ctx(r.Context()).Info().Str("user_id", user.ID).Msg("google sign-in completed")
	http.Redirect(w, r, strings.TrimRight(h.AppURL, "/")+"/dashboard", http.StatusFound)
}

func (h *handlers) setPassword(w http.ResponseWriter, r *http.Request, p *session.Principal) {
	var body struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Accounts.SetPassword(r.Context(), p.UserID, body.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully"})
}

func (h *handlers) getPreferences(w http.ResponseWriter, r *http.Request, p *session.Principal) {
	prefs, err := h.Accounts.Preferences(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preferences": prefs})
}

func (h *handlers) updatePreferences(w http.ResponseWriter, r *http.Request, p *session.Principal) {
	var prefs keyspace.GiftingPreferences
	if err := decodeJSON(r, &prefs); err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := h.Accounts.UpdatePreferences(r.Context(), p.UserID, prefs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preferences": saved})
}
