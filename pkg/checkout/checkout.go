// Package checkout starts hosted billing checkouts for signed-in users.
package checkout

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/billing"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v81"
)

type Billing interface {
	GetPrice(ctx context.Context, id string) (*stripe.Price, error)
	CreateCustomer(ctx context.Context, userID, email, name string) (*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*stripe.CheckoutSession, error)
}

type Profiles interface {
	Profile(ctx context.Context, userID string) (*keyspace.User, error)
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
}

type Request struct {
	PriceID    string `json:"priceId" validate:"required"`
	SuccessURL string `json:"successUrl" validate:"required,url"`
	CancelURL  string `json:"cancelUrl" validate:"required,url"`
}

type Session struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Mode string `json:"mode"`
}

type Service struct {
	billing  Billing
	profiles Profiles
	valid    *validator.Validate
}

func New(b Billing, profiles Profiles) *Service {
	return &Service{billing: b, profiles: profiles, valid: validator.New()}
}

// CreateSession opens a checkout for the user. Recurring prices check out in
// subscription mode and everything else as a one-time payment.
func (s *Service) CreateSession(ctx context.Context, userID string, req Request) (*Session, error) {
	if err := s.valid.StructCtx(ctx, req); err != nil {
		return nil, err
	}

	customerID, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}

	price, err := s.billing.GetPrice(ctx, req.PriceID)
	if err != nil {
		return nil, err
	}

	sess, err := s.billing.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		CustomerID: customerID,
		UserID:     userID,
		PriceID:    req.PriceID,
		Recurring:  price.Type == stripe.PriceTypeRecurring,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("user_id", userID).
		Str("checkout_session_id", sess.ID).
		Str("mode", string(sess.Mode)).
		Msg("checkout session created")
	return &Session{ID: sess.ID, URL: sess.URL, Mode: string(sess.Mode)}, nil
}

// ensureCustomer returns the billing customer of the user, creating and
// linking one on first checkout.
func (s *Service) ensureCustomer(ctx context.Context, userID string) (string, error) {
	user, err := s.profiles.Profile(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	cust, err := s.billing.CreateCustomer(ctx, userID, user.Email, user.Name)
	if err != nil {
		return "", err
	}
	if err := s.profiles.SetStripeCustomerID(ctx, userID, cust.ID); err != nil {
		return "", fmt.Errorf("checkout: link customer %s: %w", cust.ID, err)
	}
	return cust.ID, nil
}
