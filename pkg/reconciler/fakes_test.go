package reconciler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raywall/gifted-service/dyndb"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/billing"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
)

const webhookSecret = "whsec_test"

// fakeBilling serves billing objects from memory and verifies signatures
// with the real Stripe verifier.
type fakeBilling struct {
	mu            sync.Mutex
	verifier      *billing.StripeClient
	subscriptions map[string]*stripe.Subscription
	prices        map[string]*stripe.Price
	customers     map[string]*stripe.Customer
	intents       map[string]*stripe.PaymentIntent
	calls         []string
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		verifier:      billing.NewStripeClient("sk_test", webhookSecret, nil),
		subscriptions: map[string]*stripe.Subscription{},
		prices:        map[string]*stripe.Price{},
		customers:     map[string]*stripe.Customer{},
		intents:       map[string]*stripe.PaymentIntent{},
	}
}

func (f *fakeBilling) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBilling) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	return f.verifier.ConstructEvent(payload, header)
}

func (f *fakeBilling) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	f.record("GetSubscription:" + id)
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", id)
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeBilling) CancelAtPeriodEnd(_ context.Context, id string) (*stripe.Subscription, error) {
	f.record("CancelAtPeriodEnd:" + id)
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", id)
	}
	sub.CancelAtPeriodEnd = true
	cp := *sub
	return &cp, nil
}

func (f *fakeBilling) GetPrice(_ context.Context, id string) (*stripe.Price, error) {
	f.record("GetPrice:" + id)
	price, ok := f.prices[id]
	if !ok {
		return nil, fmt.Errorf("no such price %s", id)
	}
	return price, nil
}

func (f *fakeBilling) GetCustomer(_ context.Context, id string) (*stripe.Customer, error) {
	f.record("GetCustomer:" + id)
	cust, ok := f.customers[id]
	if !ok {
		return nil, fmt.Errorf("no such customer %s", id)
	}
	return cust, nil
}

func (f *fakeBilling) GetPaymentIntent(_ context.Context, id string) (*stripe.PaymentIntent, error) {
	f.record("GetPaymentIntent:" + id)
	pi, ok := f.intents[id]
	if !ok {
		return nil, fmt.Errorf("no such payment intent %s", id)
	}
	return pi, nil
}

func (f *fakeBilling) addCustomer(id, userID string) {
	meta := map[string]string{}
	if userID != "" {
		meta[billing.MetadataUserID] = userID
	}
	f.customers[id] = &stripe.Customer{ID: id, Metadata: meta}
}

func (f *fakeBilling) addSubscription(id, customerID, priceID string, status stripe.SubscriptionStatus, periodEnd time.Time) *stripe.Subscription {
	sub := &stripe.Subscription{
		ID:                 id,
		Customer:           &stripe.Customer{ID: customerID},
		Status:             status,
		Created:            periodEnd.AddDate(0, -3, 0).Unix(),
		CurrentPeriodStart: periodEnd.AddDate(0, -3, 0).Unix(),
		CurrentPeriodEnd:   periodEnd.Unix(),
		Metadata:           map[string]string{},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{Price: &stripe.Price{ID: priceID}, Quantity: 1}},
		},
	}
	f.subscriptions[id] = sub
	return sub
}

type fixture struct {
	billing   *fakeBilling
	subStore  *dyndb.MemoryStore[keyspace.Subscription]
	userStore *dyndb.MemoryStore[keyspace.User]
	payStore  *dyndb.MemoryStore[keyspace.Payment]
	users     *keyspace.Users
	subs      *keyspace.Subscriptions
	payments  *keyspace.Payments
	rec       *Reconciler
}

var periodEnd = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		billing:   newFakeBilling(),
		subStore:  dyndb.NewMemoryStore(keyspace.KeyedTableConfig[keyspace.Subscription]("Subscriptions")),
		userStore: dyndb.NewMemoryStore(keyspace.KeyedTableConfig[keyspace.User]("Users")),
		payStore:  dyndb.NewMemoryStore(keyspace.KeyedTableConfig[keyspace.Payment]("Payments")),
	}
	f.users = keyspace.NewTable[keyspace.User, *keyspace.User](f.userStore)
	f.subs = keyspace.NewTable[keyspace.Subscription, *keyspace.Subscription](f.subStore)
	f.payments = keyspace.NewTable[keyspace.Payment, *keyspace.Payment](f.payStore)
	f.rec = New(f.billing, f.users, f.subs, f.payments, nil)

	for _, u := range []keyspace.User{{ID: "A", Email: "a@x.com"}, {ID: "B", Email: "b@x.com"}} {
		require.NoError(t, f.users.Create(context.Background(), &u))
	}
	f.billing.addCustomer("cus_A", "A")
	f.billing.addCustomer("cus_B", "B")
	f.billing.prices["price_q"] = &stripe.Price{ID: "price_q", Metadata: map[string]string{billing.MetadataPlan: "quarterly"}}
	f.billing.prices["price_bare"] = &stripe.Price{ID: "price_bare", Metadata: map[string]string{}}
	return f
}

func signedEvent(t *testing.T, id, eventType, object string) ([]byte, string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"data":{"object":%s}}`, id, eventType, object))
	now := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.%s", now, payload)
	return payload, fmt.Sprintf("t=%d,v1=%s", now, hex.EncodeToString(mac.Sum(nil)))
}

func subscriptionObject(id string) string {
	return fmt.Sprintf(`{"id":%q,"object":"subscription","customer":"cus_A","status":"active"}`, id)
}
