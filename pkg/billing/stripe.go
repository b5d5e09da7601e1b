package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// MetadataUserID is the customer metadata field holding the internal user id.
const MetadataUserID = "userId"

// MetadataPlan is the price (or subscription) metadata field holding the
// plan tag.
const MetadataPlan = "plan"

var ErrSignature = errors.New("billing: invalid webhook signature")

// StripeClient is the billing-system client, constructed once at startup.
type StripeClient struct {
	api           *client.API
	webhookSecret string
}

// NewStripeClient builds a client for secretKey. backends may be nil, in
// which case the library defaults are used.
func NewStripeClient(secretKey, webhookSecret string, backends *stripe.Backends) *StripeClient {
	return &StripeClient{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
	}
}

// ConstructEvent verifies the signature header against the webhook secret
// and decodes the event.
func (c *StripeClient) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	return constructEvent(payload, header, c.webhookSecret)
}

func constructEvent(payload []byte, header, secret string) (stripe.Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return evt, nil
}

func (c *StripeClient) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("billing: get subscription %s: %w", id, err)
	}
	return sub, nil
}

// CancelAtPeriodEnd flags the subscription to end with its current period.
func (c *StripeClient) CancelAtPeriodEnd(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, fmt.Errorf("billing: cancel subscription %s: %w", id, err)
	}
	return sub, nil
}

func (c *StripeClient) GetPrice(ctx context.Context, id string) (*stripe.Price, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	price, err := c.api.Prices.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("billing: get price %s: %w", id, err)
	}
	return price, nil
}

func (c *StripeClient) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := c.api.Customers.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("billing: get customer %s: %w", id, err)
	}
	return cust, nil
}

func (c *StripeClient) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("billing: get payment intent %s: %w", id, err)
	}
	return pi, nil
}

// CreateCustomer creates a customer tagged with the internal user id, which
// is how every later billing event finds its way back to the user.
func (c *StripeClient) CreateCustomer(ctx context.Context, userID, email, name string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, userID)
	cust, err := c.api.Customers.New(params)
	if err != nil {
		return nil, fmt.Errorf("billing: create customer: %w", err)
	}
	return cust, nil
}

// CheckoutRequest describes a hosted checkout session.
type CheckoutRequest struct {
	CustomerID string
	UserID     string
	PriceID    string
	Recurring  bool
	SuccessURL string
	CancelURL  string
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*stripe.CheckoutSession, error) {
	mode := stripe.CheckoutSessionModePayment
	if req.Recurring {
		mode = stripe.CheckoutSessionModeSubscription
	}
	params := &stripe.CheckoutSessionParams{
		Customer:                 stripe.String(req.CustomerID),
		ClientReferenceID:        stripe.String(req.UserID),
		Mode:                     stripe.String(string(mode)),
		SuccessURL:               stripe.String(req.SuccessURL),
		CancelURL:                stripe.String(req.CancelURL),
		AllowPromotionCodes:      stripe.Bool(true),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, req.UserID)
	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("billing: create checkout session: %w", err)
	}
	return sess, nil
}

// PlanOf returns the plan tag of a price, falling back to the subscription
// metadata. An empty result means neither carries one.
func PlanOf(price *stripe.Price, sub *stripe.Subscription) string {
	if price != nil && price.Metadata[MetadataPlan] != "" {
		return price.Metadata[MetadataPlan]
	}
	if sub != nil {
		return sub.Metadata[MetadataPlan]
	}
	return ""
}
