package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/accounts"
	"github.com/raywall/gifted-service/pkg/checkout"
	"github.com/raywall/gifted-service/pkg/gifts"
	"github.com/raywall/gifted-service/pkg/metrics"
	"github.com/raywall/gifted-service/pkg/newsletter"
	"github.com/raywall/gifted-service/pkg/oauth"
	"github.com/raywall/gifted-service/pkg/reconciler"
	"github.com/raywall/gifted-service/pkg/session"
	"github.com/raywall/gifted-service/pkg/storage"
	"github.com/raywall/gifted-service/pkg/transport"
)

type Billing interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	Overview(ctx context.Context, userID string) (*reconciler.Overview, error)
	Cancel(ctx context.Context, userID, subscriptionID string) (*keyspace.Subscription, error)
}

type Newsletter interface {
	Subscribe(ctx context.Context, email string) (newsletter.Outcome, error)
	Verify(ctx context.Context, email, token string) (newsletter.Outcome, error)
	Unsubscribe(ctx context.Context, email string) error
	HandleEnvelope(ctx context.Context, body []byte) error
}

type Accounts interface {
	Register(ctx context.Context, in accounts.Registration) (*keyspace.User, error)
	Authenticate(ctx context.Context, email, password string) (*keyspace.User, error)
	FindOrCreate(ctx context.Context, email string) (*keyspace.User, error)
	SetPassword(ctx context.Context, userID, password string) error
	Preferences(ctx context.Context, userID string) (*keyspace.GiftingPreferences, error)
	UpdatePreferences(ctx context.Context, userID string, prefs keyspace.GiftingPreferences) (*keyspace.GiftingPreferences, error)
}

type Gifts interface {
	Create(ctx context.Context, userID string, in gifts.Input) (*keyspace.Gift, error)
	List(ctx context.Context, userID string) ([]keyspace.Gift, error)
	Get(ctx context.Context, userID, giftID string) (*keyspace.Gift, error)
	Update(ctx context.Context, userID, giftID string, patch gifts.Patch) (*keyspace.Gift, error)
	SetStatus(ctx context.Context, userID, giftID string, status keyspace.GiftStatus) (*keyspace.Gift, error)
	Queue(ctx context.Context, status keyspace.GiftStatus, from, to string) ([]keyspace.Gift, error)
	PresignImage(ctx context.Context, userID, giftID, contentType string) (*storage.Upload, error)
}

type Checkout interface {
	CreateSession(ctx context.Context, userID string, req checkout.Request) (*checkout.Session, error)
}

// SignInMailer delivers email sign-in links.
type SignInMailer interface {
	SendSignInLink(ctx context.Context, email, link string) error
}

// OAuthProvider runs an authorization code flow with an external identity
// provider.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth.Identity, error)
}

// Deps are the collaborators of the router, all built once at startup.
type Deps struct {
	Billing    Billing
	Newsletter Newsletter
	Accounts   Accounts
	Gifts      Gifts
	Checkout   Checkout
	Sessions   *session.Manager
	Mailer     SignInMailer
	Metrics    metrics.Provider
	// Google is optional; its routes exist only when set.
	Google OAuthProvider

	// AppURL is the public dashboard origin, used for redirects and links.
	AppURL        string
	Timeout       time.Duration
	SecureCookies bool
}

type handlers struct {
	Deps
	valid *validator.Validate
}

// NewRouter wires every route.
func NewRouter(d Deps) *mux.Router {
	h := &handlers{Deps: d, valid: validator.New()}
	r := mux.NewRouter()
	r.Use(transport.ObservabilityMiddleware(metrics.NewRecorder(d.Metrics)))
	r.Use(transport.TimeoutMiddleware(d.Timeout))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: "not_found", Message: "route not found"})
	})

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/webhooks/stripe", h.stripeWebhook).Methods(http.MethodPost)
	api.HandleFunc("/ses-events", h.sesEvents).Methods(http.MethodPost)

	api.HandleFunc("/newsletter/subscribe", h.subscribe).Methods(http.MethodPost)
	api.HandleFunc("/newsletter/verify", h.verify).Methods(http.MethodGet)
	api.HandleFunc("/newsletter/unsubscribe", h.unsubscribe).Methods(http.MethodGet)

	api.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/credentials", h.credentials).Methods(http.MethodPost)
	api.HandleFunc("/auth/email", h.emailSignIn).Methods(http.MethodPost)
	api.HandleFunc("/auth/callback/email", h.emailCallback).Methods(http.MethodGet)
	if d.Google != nil {
		api.HandleFunc("/auth/google", h.googleStart).Methods(http.MethodGet)
		api.HandleFunc("/auth/callback/google", h.googleCallback).Methods(http.MethodGet)
	}
	api.Handle("/auth/set-password", h.authed(h.setPassword)).Methods(http.MethodPost)

	api.Handle("/user/preferences", h.authed(h.getPreferences)).Methods(http.MethodGet)
	api.Handle("/user/preferences", h.authed(h.updatePreferences)).Methods(http.MethodPost)
	api.Handle("/user/subscription", h.authed(h.subscription)).Methods(http.MethodGet)
	api.Handle("/user/subscription/{id}/cancel", h.authed(h.cancelSubscription)).Methods(http.MethodPost)

	api.Handle("/gifts", h.authed(h.listGifts)).Methods(http.MethodGet)
	api.Handle("/gifts", h.authed(h.createGift)).Methods(http.MethodPost)
	api.Handle("/gifts/{id}", h.authed(h.getGift)).Methods(http.MethodGet)
	api.Handle("/gifts/{id}", h.authed(h.updateGift)).Methods(http.MethodPut)
	api.Handle("/gifts/{id}/images", h.authed(h.presignImage)).Methods(http.MethodPost)

	api.Handle("/create-checkout-session", h.authed(h.createCheckout)).Methods(http.MethodPost)

	api.Handle("/admin/gifts", h.admin(h.giftQueue)).Methods(http.MethodGet)
	api.Handle("/admin/users/{userId}/gifts/{id}/status", h.admin(h.setGiftStatus)).Methods(http.MethodPut)

	return r
}

type principalHandler func(w http.ResponseWriter, r *http.Request, p *session.Principal)

// authed resolves the caller before running next.
func (h *handlers) authed(next principalHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.Sessions.FromRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r.WithContext(session.WithPrincipal(r.Context(), p)), p)
	})
}

func (h *handlers) admin(next principalHandler) http.Handler {
	return h.authed(func(w http.ResponseWriter, r *http.Request, p *session.Principal) {
		if err := h.Sessions.RequireAdmin(p); err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r, p)
	})
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
