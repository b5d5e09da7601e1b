package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raywall/gifted-service/dyndb"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/billing"
	"github.com/raywall/gifted-service/pkg/metrics"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v81"
	"golang.org/x/sync/errgroup"
)

// Billing is the part of the billing client the reconciler needs.
type Billing interface {
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, id string) (*stripe.Subscription, error)
	GetPrice(ctx context.Context, id string) (*stripe.Price, error)
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

type UserStore interface {
	Get(ctx context.Context, pk, sk string) (*keyspace.User, error)
	UpdateAttributes(ctx context.Context, pk, sk string, delta func(*keyspace.User) error) (*keyspace.User, error)
}

type SubscriptionStore interface {
	Put(ctx context.Context, item *keyspace.Subscription) error
	QueryByPrimary(ctx context.Context, pk string, sk keyspace.SortKey) ([]keyspace.Subscription, error)
}

type PaymentStore interface {
	Put(ctx context.Context, item *keyspace.Payment) error
}

// Reconciler mirrors billing-system state into the key space.
type Reconciler struct {
	billing       Billing
	users         UserStore
	subscriptions SubscriptionStore
	payments      PaymentStore
	metrics       metrics.Recorder
}

func New(b Billing, users UserStore, subs SubscriptionStore, payments PaymentStore, m metrics.Provider) *Reconciler {
	return &Reconciler{
		billing:       b,
		users:         users,
		subscriptions: subs,
		payments:      payments,
		metrics:       metrics.NewRecorder(m),
	}
}

// HandleWebhook verifies and applies one delivery. Nothing is read or
// written unless the signature verifies.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, err := r.billing.ConstructEvent(payload, signature)
	if err != nil {
		r.metrics.Count(ctx, metrics.WebhookEvents, "type:unknown", "outcome:rejected")
		log.Ctx(ctx).Warn().Err(err).Msg("webhook signature rejected")
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	logger := log.Ctx(ctx).With().
		Str("event_id", evt.ID).
		Str("event_type", string(evt.Type)).
		Logger()
	ctx = logger.WithContext(ctx)

	parsed, err := ParseEvent(evt)
	if err == nil {
		err = r.Apply(ctx, parsed)
	}

	outcome := "applied"
	switch {
	case err == nil:
		if _, ok := parsed.(Unhandled); ok {
			outcome = "ignored"
		}
		logger.Info().Str("outcome", outcome).Msg("webhook processed")
	case IsDataIntegrity(err):
		outcome = "invalid"
		logger.Error().Err(err).Msg("billing data integrity failure")
	default:
		outcome = "failed"
		logger.Error().Err(err).Msg("webhook processing failed")
	}
	r.metrics.Count(ctx, metrics.WebhookEvents, "type:"+string(evt.Type), "outcome:"+outcome)
	return err
}

// Apply dispatches a decoded event. Billing objects are always fetched fresh
// so that out-of-order deliveries still write current state.
func (r *Reconciler) Apply(ctx context.Context, evt Event) error {
	switch e := evt.(type) {
	case CheckoutCompleted:
		switch e.Mode {
		case stripe.CheckoutSessionModeSubscription:
			if e.SubscriptionID == "" {
				return fmt.Errorf("%w: checkout %s has no subscription", ErrMissingID, e.SessionID)
			}
			sub, err := r.billing.GetSubscription(ctx, e.SubscriptionID)
			if err != nil {
				return err
			}
			_, err = r.applySubscription(ctx, sub, false)
			return err
		case stripe.CheckoutSessionModePayment:
			if e.PaymentIntentID == "" {
				return fmt.Errorf("%w: checkout %s has no payment intent", ErrMissingID, e.SessionID)
			}
			return r.applyPaymentIntent(ctx, e.PaymentIntentID)
		}
		log.Ctx(ctx).Debug().Str("mode", string(e.Mode)).Msg("checkout mode not handled")
		return nil

	case SubscriptionChanged:
		if e.SubscriptionID == "" {
			return fmt.Errorf("%w: %s", ErrMissingID, e.Type)
		}
		sub, err := r.billing.GetSubscription(ctx, e.SubscriptionID)
		if err != nil {
			return err
		}
		_, err = r.applySubscription(ctx, sub, e.Deleted)
		return err

	case PaymentSucceeded:
		if e.PaymentIntentID == "" {
			return fmt.Errorf("%w: %s", ErrMissingID, TypePaymentSucceeded)
		}
		return r.applyPaymentIntent(ctx, e.PaymentIntentID)

	case Unhandled:
		log.Ctx(ctx).Debug().Str("type", e.Type).Msg("event type ignored")
	}
	return nil
}

// Cancel sets cancel-at-period-end on a subscription owned by userID and
// mirrors the result. Ownership is checked before anything is mutated.
func (r *Reconciler) Cancel(ctx context.Context, userID, subscriptionID string) (*keyspace.Subscription, error) {
	sub, err := r.billing.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	owner, err := r.resolveUser(ctx, sub.Customer)
	if err != nil {
		return nil, err
	}
	if owner != userID {
		log.Ctx(ctx).Warn().
			Str("subscription_id", subscriptionID).
			Str("user_id", userID).
			Msg("cancel attempted on another user's subscription")
		return nil, ErrForbidden
	}

	canceled, err := r.billing.CancelAtPeriodEnd(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return r.applySubscription(ctx, canceled, false)
}

func (r *Reconciler) resolveUser(ctx context.Context, ref *stripe.Customer) (string, error) {
	if ref == nil || ref.ID == "" {
		return "", ErrMissingCustomer
	}
	cust, err := r.billing.GetCustomer(ctx, ref.ID)
	if err != nil {
		return "", err
	}
	userID := cust.Metadata[billing.MetadataUserID]
	if userID == "" {
		return "", fmt.Errorf("%w: customer %s", ErrMissingUserID, ref.ID)
	}
	return userID, nil
}

func (r *Reconciler) resolvePlan(ctx context.Context, sub *stripe.Subscription) (string, *stripe.Price, error) {
	var price *stripe.Price
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		fresh, err := r.billing.GetPrice(ctx, sub.Items.Data[0].Price.ID)
		if err != nil {
			return "", nil, err
		}
		price = fresh
	}
	plan := billing.PlanOf(price, sub)
	if plan == "" {
		return "", nil, fmt.Errorf("%w: subscription %s", ErrMissingPlan, sub.ID)
	}
	return plan, price, nil
}

func unixUTC(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// applySubscription upserts the record keyed by subscription id and then
// overwrites the profile snapshot. Every field comes from the billing object.
func (r *Reconciler) applySubscription(ctx context.Context, sub *stripe.Subscription, deleted bool) (*keyspace.Subscription, error) {
	userID, err := r.resolveUser(ctx, sub.Customer)
	if err != nil {
		return nil, err
	}
	plan, price, err := r.resolvePlan(ctx, sub)
	if err != nil {
		return nil, err
	}

	rec := &keyspace.Subscription{
		UserID:             userID,
		CustomerID:         sub.Customer.ID,
		ID:                 sub.ID,
		Status:             keyspace.SubscriptionStatus(sub.Status),
		Plan:               plan,
		CurrentPeriodStart: unixUTC(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixUTC(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CreatedAt:          unixUTC(sub.Created),
	}
	if price != nil {
		rec.PriceID = price.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		rec.Quantity = sub.Items.Data[0].Quantity
	}
	// An ended subscription stays flagged even when a late update event
	// re-fetches it after the delete was mirrored.
	if deleted || rec.Status == keyspace.SubscriptionCanceled {
		rec.Status = keyspace.SubscriptionCanceled
		rec.CancelAtPeriodEnd = true
	}

	if err := r.subscriptions.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("reconciler: store subscription %s: %w", sub.ID, err)
	}

	snapshot := rec.Snapshot()
	_, err = r.users.UpdateAttributes(ctx, keyspace.UserPK(userID), keyspace.ProfileSK(userID), func(u *keyspace.User) error {
		u.Subscription = &snapshot
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconciler: update profile snapshot for %s: %w", userID, err)
	}

	log.Ctx(ctx).Info().
		Str("user_id", userID).
		Str("subscription_id", rec.ID).
		Str("status", string(rec.Status)).
		Str("plan", plan).
		Msg("subscription mirrored")
	return rec, nil
}

func (r *Reconciler) applyPaymentIntent(ctx context.Context, id string) error {
	pi, err := r.billing.GetPaymentIntent(ctx, id)
	if err != nil {
		return err
	}
	userID, err := r.resolveUser(ctx, pi.Customer)
	if err != nil {
		return err
	}

	rec := &keyspace.Payment{
		UserID:          userID,
		CustomerID:      pi.Customer.ID,
		PaymentIntentID: pi.ID,
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
		Status:          string(pi.Status),
		CreatedAt:       unixUTC(pi.Created),
	}
	if pi.PaymentMethod != nil {
		rec.PaymentMethod = pi.PaymentMethod.ID
	}
	if err := r.payments.Put(ctx, rec); err != nil {
		return fmt.Errorf("reconciler: store payment %s: %w", pi.ID, err)
	}
	log.Ctx(ctx).Info().Str("user_id", userID).Str("payment_intent_id", pi.ID).Msg("payment recorded")
	return nil
}

// Current derives the authoritative current subscription: the active record
// with the latest period end. It returns nil when none is active.
func Current(records []keyspace.Subscription) *keyspace.Subscription {
	var current *keyspace.Subscription
	for i := range records {
		rec := &records[i]
		if rec.Status != keyspace.SubscriptionActive {
			continue
		}
		if current == nil || rec.CurrentPeriodEnd.After(current.CurrentPeriodEnd) {
			current = rec
		}
	}
	return current
}

// Overview is the dashboard view of a user's billing state. Current is
// derived from History; Snapshot is the profile copy, for display only.
type Overview struct {
	Current  *keyspace.Subscription         `json:"subscription"`
	History  []keyspace.Subscription        `json:"allSubscriptions"`
	Snapshot *keyspace.SubscriptionSnapshot `json:"snapshot,omitempty"`
}

// Overview loads the profile and the subscription history in parallel.
func (r *Reconciler) Overview(ctx context.Context, userID string) (*Overview, error) {
	var (
		history []keyspace.Subscription
		profile *keyspace.User
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		history, err = r.subscriptions.QueryByPrimary(gctx, keyspace.UserPK(userID), keyspace.Prefix(keyspace.SubscriptionSKPrefix))
		return err
	})
	g.Go(func() error {
		u, err := r.users.Get(gctx, keyspace.UserPK(userID), keyspace.ProfileSK(userID))
		if errors.Is(err, dyndb.ErrNotFound) {
			return nil
		}
		profile = u
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reconciler: overview for %s: %w", userID, err)
	}

	out := &Overview{Current: Current(history), History: history}
	if out.History == nil {
		out.History = []keyspace.Subscription{}
	}
	if profile != nil {
		out.Snapshot = profile.Subscription
	}
	if out.Snapshot != nil && (out.Current == nil || out.Current.ID != out.Snapshot.ID) {
		log.Ctx(ctx).Debug().Str("user_id", userID).Msg("profile snapshot differs from derived subscription")
	}
	return out, nil
}
