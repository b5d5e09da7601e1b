package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/raywall/gifted-service/dyndb"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
)

func TestHandleWebhook_SubscriptionUpdatedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.billing.addSubscription("sub_1", "cus_A", "price_q", stripe.SubscriptionStatusActive, periodEnd)

	payload, sig := signedEvent(t, "evt_1", TypeSubscriptionUpdated, subscriptionObject("sub_1"))
	require.NoError(t, f.rec.HandleWebhook(ctx, payload, sig))

	firstSub, ok := f.subStore.Item("USER#A", "SUB#sub_1")
	require.True(t, ok)
	firstUser, ok := f.userStore.Item("USER#A", "PROFILE#A")
	require.True(t, ok)

	require.NoError(t, f.rec.HandleWebhook(ctx, payload, sig))

	secondSub, _ := f.subStore.Item("USER#A", "SUB#sub_1")
	secondUser, _ := f.userStore.Item("USER#A", "PROFILE#A")
	assert.Equal(t, firstSub, secondSub)
	assert.Equal(t, firstUser, secondUser)
	assert.Equal(t, 1, f.subStore.Len())

	stored, err := f.subs.Get(ctx, "USER#A", "SUB#sub_1")
	require.NoError(t, err)
	assert.Equal(t, "quarterly", stored.Plan)
	assert.Equal(t, "price_q", stored.PriceID)
	assert.Equal(t, keyspace.SubscriptionActive, stored.Status)
	assert.Equal(t, "SUB#active", stored.GSI1PK)
	assert.Equal(t, "2025-06-30T00:00:00Z", stored.GSI1SK)

	user, err := f.users.Get(ctx, "USER#A", "PROFILE#A")
	require.NoError(t, err)
	require.NotNil(t, user.Subscription)
	assert.Equal(t, "sub_1", user.Subscription.ID)
	assert.True(t, user.Subscription.CurrentPeriodEnd.Equal(periodEnd))
}

func TestHandleWebhook_DeletedForcesCanceled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.billing.addSubscription("sub_1", "cus_A", "price_q", stripe.SubscriptionStatusActive, periodEnd)

	payload, sig := signedEvent(t, "evt_1", TypeSubscriptionCreated, subscriptionObject("sub_1"))
	require.NoError(t, f.rec.HandleWebhook(ctx, payload, sig))

	// the billing object still reports active and no cancel flag
	sub.CancelAtPeriodEnd = false
	payload, sig = signedEvent(t, "evt_2", TypeSubscriptionDeleted, subscriptionObject("sub_1"))
	require.NoError(t, f.rec.HandleWebhook(ctx, payload, sig))

	stored, err := f.subs.Get(ctx, "USER#A", "SUB#sub_1")
	require.NoError(t, err)
	assert.Equal(t, keyspace.SubscriptionCanceled, stored.Status)
	assert.True(t, stored.CancelAtPeriodEnd)
	assert.Equal(t, "SUB#canceled", stored.GSI1PK)

	user, err := f.users.Get(ctx, "USER#A", "PROFILE#A")
	require.NoError(t, err)
	assert.Equal(t, keyspace.SubscriptionCanceled, user.Subscription.Status)
	assert.True(t, user.Subscription.CancelAtPeriodEnd)
}

func TestHandleWebhook_UpdateAfterDeleteKeepsCancelFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.billing.addSubscription("sub_1", "cus_A", "price_q", stripe.SubscriptionStatusActive, periodEnd)

	payload, sig := signedEvent(t, "evt_1", TypeSubscriptionDeleted, subscriptionObject("sub_1"))
	require.NoError(t, f.rec.HandleWebhook(ctx, payload, sig))

	// a delayed update arrives once the billing object has ended
	sub.Status = stripe.SubscriptionStatusCanceled
	sub.CancelAtPeriodEnd = false
	payload, sig = signedEvent(t, "evt_2", TypeSubscriptionUpdated, subscriptionObject("sub_1"))
	require.NoError(t, f.rec.HandleWebhook(ctx, payload, sig))

	stored, err := f.subs.Get(ctx, "USER#A", "SUB#sub_1")
	require.NoError(t, err)
	assert.Equal(t, keyspace.SubscriptionCanceled, stored.Status)
	assert.True(t, stored.CancelAtPeriodEnd)

	user, err := f.users.Get(ctx, "USER#A", "PROFILE#A")
	require.NoError(t, err)
	assert.True(t, user.Subscription.CancelAtPeriodEnd)
}

type mockSubscriptions struct{ mock.Mock }

func (m *mockSubscriptions) Put(ctx context.Context, item *keyspace.Subscription) error {
	return m.Called(ctx, item).Error(0)
}

func (m *mockSubscriptions) QueryByPrimary(ctx context.Context, pk string, sk keyspace.SortKey) ([]keyspace.Subscription, error) {
	args := m.Called(ctx, pk, sk)
	return args.Get(0).([]keyspace.Subscription), args.Error(1)
}

type mockUsers struct{ mock.Mock }

func (m *mockUsers) Get(ctx context.Context, pk, sk string) (*keyspace.User, error) {
	args := m.Called(ctx, pk, sk)
	return args.Get(0).(*keyspace.User), args.Error(1)
}

func (m *mockUsers) UpdateAttributes(ctx context.Context, pk, sk string, delta func(*keyspace.User) error) (*keyspace.User, error) {
	args := m.Called(ctx, pk, sk, delta)
	return args.Get(0).(*keyspace.User), args.Error(1)
}

type mockPayments struct{ mock.Mock }

func (m *mockPayments) Put(ctx context.Context, item *keyspace.Payment) error {
	return m.Called(ctx, item).Error(0)
}

func TestHandleWebhook_InvalidSignatureWritesNothing(t *testing.T) {
	fb := newFakeBilling()
	fb.addCustomer("cus_A", "A")
	fb.addSubscription("sub_1", "cus_A", "price_q", stripe.SubscriptionStatusActive, periodEnd)
	users, subs, payments := &mockUsers{}, &mockSubscriptions{}, &mockPayments{}
	rec := New(fb, users, subs, payments, nil)

	payload, _ := signedEvent(t, "evt_1", TypeSubscriptionUpdated, subscriptionObject("sub_1"))
	for _, header := range []string{"", "t=1,v1=deadbeef", "garbage"} {
		err := rec.HandleWebhook(context.Background(), payload, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	}

	users.AssertNotCalled(t, "UpdateAttributes", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	subs.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	payments.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	assert.Empty(t, fb.calls)
}

func TestHandleWebhook_DataIntegrityFailures(t *testing.T) {
	t.Run("customer without userId", func(t *testing.T) {
		f := newFixture(t)
		f.billing.addCustomer("cus_X", "")
		f.billing.addSubscription("sub_1", "cus_X", "price_q", stripe.SubscriptionStatusActive, periodEnd)

		payload, sig := signedEvent(t, "evt_1", TypeSubscriptionUpdated, subscriptionObject("sub_1"))
		err := f.rec.HandleWebhook(context.Background(), payload, sig)
		assert.ErrorIs(t, err, ErrMissingUserID)
		assert.True(t, IsDataIntegrity(err))
		assert.Equal(t, 0, f.subStore.Len())
	})

	t.Run("no plan anywhere", func(t *testing.T) {
		f := newFixture(t)
		f.billing.addSubscription("sub_1", "cus_A", "price_bare", stripe.SubscriptionStatusActive, periodEnd)

		payload, sig := signedEvent(t, "evt_1", TypeSubscriptionUpdated, subscriptionObject("sub_1"))
		err := f.rec.HandleWebhook(context.Background(), payload, sig)
		assert.ErrorIs(t, err, ErrMissingPlan)
		assert.Equal(t, 0, f.subStore.Len())
	})

	t.Run("plan from subscription metadata", func(t *testing.T) {
		f := newFixture(t)
		sub := f.billing.addSubscription("sub_1", "cus_A", "price_bare", stripe.SubscriptionStatusTrialing, periodEnd)
		sub.Metadata["plan"] = "single_gift"

		payload, sig := signedEvent(t, "evt_1", TypeSubscriptionCreated, subscriptionObject("sub_1"))
		require.NoError(t, f.rec.HandleWebhook(context.Background(), payload, sig))

		stored, err := f.subs.Get(context.Background(), "USER#A", "SUB#sub_1")
		require.NoError(t, err)
		assert.Equal(t, "single_gift", stored.Plan)
		assert.Equal(t, keyspace.SubscriptionTrialing, stored.Status)
	})

	t.Run("missing profile", func(t *testing.T) {
		f := newFixture(t)
		f.billing.addCustomer("cus_Z", "Z")
		f.billing.addSubscription("sub_1", "cus_Z", "price_q", stripe.SubscriptionStatusActive, periodEnd)

		payload, sig := signedEvent(t, "evt_1", TypeSubscriptionUpdated, subscriptionObject("sub_1"))
		err := f.rec.HandleWebhook(context.Background(), payload, sig)
		assert.ErrorIs(t, err, dyndb.ErrNotFound)
	})
}

func TestHandleWebhook_CheckoutPaymentMode(t *testing.T) {
	f := newFixture(t)
	f.billing.intents["pi_1"] = &stripe.PaymentIntent{
		ID:            "pi_1",
		Customer:      &stripe.Customer{ID: "cus_B"},
		Amount:        4900,
		Currency:      stripe.CurrencyUSD,
		Status:        stripe.PaymentIntentStatusSucceeded,
		Created:       periodEnd.Unix(),
		PaymentMethod: &stripe.PaymentMethod{ID: "pm_1"},
	}

	payload, sig := signedEvent(t, "evt_1", TypeCheckoutCompleted,
		`{"id":"cs_1","object":"checkout.session","mode":"payment","payment_intent":"pi_1"}`)
	require.NoError(t, f.rec.HandleWebhook(context.Background(), payload, sig))

	// redelivery overwrites the same record
	require.NoError(t, f.rec.HandleWebhook(context.Background(), payload, sig))
	assert.Equal(t, 1, f.payStore.Len())

	got, err := f.payments.Get(context.Background(), "USER#B", "PAYMENT#pi_1")
	require.NoError(t, err)
	assert.Equal(t, int64(4900), got.Amount)
	assert.Equal(t, "usd", got.Currency)
	assert.Equal(t, "PAYMENT#succeeded", got.GSI1PK)
	assert.Equal(t, "pm_1", got.PaymentMethod)
}

func TestHandleWebhook_CheckoutSubscriptionMode(t *testing.T) {
	f := newFixture(t)
	f.billing.addSubscription("sub_9", "cus_B", "price_q", stripe.SubscriptionStatusActive, periodEnd)

	payload, sig := signedEvent(t, "evt_1", TypeCheckoutCompleted,
		`{"id":"cs_1","object":"checkout.session","mode":"subscription","subscription":"sub_9"}`)
	require.NoError(t, f.rec.HandleWebhook(context.Background(), payload, sig))

	_, err := f.subs.Get(context.Background(), "USER#B", "SUB#sub_9")
	assert.NoError(t, err)
}

func TestHandleWebhook_UnknownTypeIsNoop(t *testing.T) {
	f := newFixture(t)

	payload, sig := signedEvent(t, "evt_1", "invoice.paid", `{"id":"in_1","object":"invoice"}`)
	require.NoError(t, f.rec.HandleWebhook(context.Background(), payload, sig))
	assert.Empty(t, f.billing.calls)
	assert.Equal(t, 0, f.subStore.Len())
}

func TestCancel_RejectsOtherUsersSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.billing.addSubscription("sub_A", "cus_A", "price_q", stripe.SubscriptionStatusActive, periodEnd)

	payload, sig := signedEvent(t, "evt_1", TypeSubscriptionCreated, subscriptionObject("sub_A"))
	require.NoError(t, f.rec.HandleWebhook(ctx, payload, sig))
	before, _ := f.subStore.Item("USER#A", "SUB#sub_A")

	_, err := f.rec.Cancel(ctx, "B", "sub_A")
	assert.ErrorIs(t, err, ErrForbidden)

	after, _ := f.subStore.Item("USER#A", "SUB#sub_A")
	assert.Equal(t, before, after)
	assert.NotContains(t, f.billing.calls, "CancelAtPeriodEnd:sub_A")
	assert.False(t, f.billing.subscriptions["sub_A"].CancelAtPeriodEnd)
}

func TestCancel_OwnerSetsCancelAtPeriodEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.billing.addSubscription("sub_A", "cus_A", "price_q", stripe.SubscriptionStatusActive, periodEnd)

	rec, err := f.rec.Cancel(ctx, "A", "sub_A")
	require.NoError(t, err)
	assert.True(t, rec.CancelAtPeriodEnd)
	assert.Equal(t, keyspace.SubscriptionActive, rec.Status)

	user, err := f.users.Get(ctx, "USER#A", "PROFILE#A")
	require.NoError(t, err)
	assert.True(t, user.Subscription.CancelAtPeriodEnd)
}

func TestCurrent(t *testing.T) {
	early := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	latest := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	records := []keyspace.Subscription{
		{ID: "early", Status: keyspace.SubscriptionActive, CurrentPeriodEnd: early},
		{ID: "late", Status: keyspace.SubscriptionActive, CurrentPeriodEnd: late},
		{ID: "canceled", Status: keyspace.SubscriptionCanceled, CurrentPeriodEnd: latest},
	}
	current := Current(records)
	require.NotNil(t, current)
	assert.Equal(t, "late", current.ID)

	assert.Nil(t, Current(records[2:]))
	assert.Nil(t, Current(nil))
}

func TestOverview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.billing.addSubscription("sub_old", "cus_A", "price_q", stripe.SubscriptionStatusActive, periodEnd.AddDate(0, -3, 0))
	f.billing.addSubscription("sub_new", "cus_A", "price_q", stripe.SubscriptionStatusActive, periodEnd)

	// the newer one is applied first, so the profile snapshot ends on the older one
	for _, id := range []string{"sub_new", "sub_old"} {
		payload, sig := signedEvent(t, "evt_"+id, TypeSubscriptionUpdated, subscriptionObject(id))
		require.NoError(t, f.rec.HandleWebhook(ctx, payload, sig))
	}

	ov, err := f.rec.Overview(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, ov.Current)
	assert.Equal(t, "sub_new", ov.Current.ID)
	assert.Len(t, ov.History, 2)
	require.NotNil(t, ov.Snapshot)
	assert.Equal(t, "sub_old", ov.Snapshot.ID)

	empty, err := f.rec.Overview(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, empty.Current)
	assert.Empty(t, empty.History)
	assert.Nil(t, empty.Snapshot)
}

func TestParseEvent(t *testing.T) {
	evt := stripe.Event{
		Type: TypePaymentSucceeded,
		Data: &stripe.EventData{Raw: []byte(`{"id":"pi_7","object":"payment_intent"}`)},
	}
	parsed, err := ParseEvent(evt)
	require.NoError(t, err)
	assert.Equal(t, PaymentSucceeded{PaymentIntentID: "pi_7"}, parsed)

	parsed, err = ParseEvent(stripe.Event{Type: "customer.created"})
	require.NoError(t, err)
	assert.Equal(t, Unhandled{Type: "customer.created"}, parsed)

	_, err = ParseEvent(stripe.Event{Type: TypeSubscriptionDeleted, Data: &stripe.EventData{Raw: []byte(`[`)}})
	assert.Error(t, err)
}
