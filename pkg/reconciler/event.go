package reconciler

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v81"
)

// Event types consumed from the billing system.
const (
	TypeCheckoutCompleted   = "checkout.session.completed"
	TypeSubscriptionCreated = "customer.subscription.created"
	TypeSubscriptionUpdated = "customer.subscription.updated"
	TypeSubscriptionDeleted = "customer.subscription.deleted"
	TypePaymentSucceeded    = "payment_intent.succeeded"
)

// Event is the decoded form of a verified billing event. The concrete type
// is one of CheckoutCompleted, SubscriptionChanged, PaymentSucceeded or
// Unhandled.
type Event interface {
	EventType() string
}

type CheckoutCompleted struct {
	SessionID       string
	Mode            stripe.CheckoutSessionMode
	SubscriptionID  string
	PaymentIntentID string
}

func (CheckoutCompleted) EventType() string { return TypeCheckoutCompleted }

// SubscriptionChanged covers created, updated and deleted. Deleted forces the
// terminal state whatever the subscription object says.
type SubscriptionChanged struct {
	Type           string
	SubscriptionID string
	Deleted        bool
}

func (e SubscriptionChanged) EventType() string { return e.Type }

type PaymentSucceeded struct {
	PaymentIntentID string
}

func (PaymentSucceeded) EventType() string { return TypePaymentSucceeded }

// Unhandled is any event type the service does not act on.
type Unhandled struct {
	Type string
}

func (e Unhandled) EventType() string { return e.Type }

// ParseEvent decodes the object of a verified event into its variant. Only
// identifiers are taken from the payload; handlers re-fetch the objects.
func ParseEvent(evt stripe.Event) (Event, error) {
	var raw json.RawMessage
	if evt.Data != nil {
		raw = evt.Data.Raw
	}
	t := string(evt.Type)

	switch t {
	case TypeCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return nil, fmt.Errorf("reconciler: decode %s: %w", t, err)
		}
		e := CheckoutCompleted{SessionID: sess.ID, Mode: sess.Mode}
		if sess.Subscription != nil {
			e.SubscriptionID = sess.Subscription.ID
		}
		if sess.PaymentIntent != nil {
			e.PaymentIntentID = sess.PaymentIntent.ID
		}
		return e, nil

	case TypeSubscriptionCreated, TypeSubscriptionUpdated, TypeSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("reconciler: decode %s: %w", t, err)
		}
		return SubscriptionChanged{
			Type:           t,
			SubscriptionID: sub.ID,
			Deleted:        t == TypeSubscriptionDeleted,
		}, nil

	case TypePaymentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("reconciler: decode %s: %w", t, err)
		}
		return PaymentSucceeded{PaymentIntentID: pi.ID}, nil
	}

	return Unhandled{Type: t}, nil
}
