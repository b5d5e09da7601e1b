package keyspace

import (
	"time"
)

// Item carries the generic key attributes. Entities embed it and never set
// the fields directly; Table stamps them from the entity's Keys method on
// every write.
type Item struct {
	PK     string `dynamodbav:"pk" json:"-"`
	SK     string `dynamodbav:"sk" json:"-"`
	GSI1PK string `dynamodbav:"GSI1PK,omitempty" json:"-"`
	GSI1SK string `dynamodbav:"GSI1SK,omitempty" json:"-"`
}

func (i *Item) stamp(k Keys) {
	i.PK, i.SK, i.GSI1PK, i.GSI1SK = k.PK, k.SK, k.GSI1PK, k.GSI1SK
}

// Stored returns the keys as last written, which may differ from Keys() on
// a record that was mutated in memory.
func (i Item) Stored() Keys {
	return Keys{PK: i.PK, SK: i.SK, GSI1PK: i.GSI1PK, GSI1SK: i.GSI1SK}
}

type GiftStatus string

const (
	GiftPending    GiftStatus = "pending"
	GiftProcessing GiftStatus = "processing"
	GiftShipped    GiftStatus = "shipped"
)

// Valid reports whether s is one of the known gift states.
func (s GiftStatus) Valid() bool {
	switch s {
	case GiftPending, GiftProcessing, GiftShipped:
		return true
	}
	return false
}

// SubscriptionStatus mirrors the billing system's subscription states.
type SubscriptionStatus string

const (
	SubscriptionActive            SubscriptionStatus = "active"
	SubscriptionCanceled          SubscriptionStatus = "canceled"
	SubscriptionPastDue           SubscriptionStatus = "past_due"
	SubscriptionIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionTrialing          SubscriptionStatus = "trialing"
	SubscriptionUnpaid            SubscriptionStatus = "unpaid"
)

type NewsletterStatus string

const (
	NewsletterPending      NewsletterStatus = "pending"
	NewsletterActive       NewsletterStatus = "active"
	NewsletterUnsubscribed NewsletterStatus = "unsubscribed"
)

// SubscriptionSnapshot is the denormalized copy of a subscription kept on
// the user profile for display. The subscription records are authoritative.
type SubscriptionSnapshot struct {
	ID                string             `dynamodbav:"id" json:"id"`
	Status            SubscriptionStatus `dynamodbav:"status" json:"status"`
	Plan              string             `dynamodbav:"plan" json:"plan"`
	CurrentPeriodEnd  time.Time          `dynamodbav:"currentPeriodEnd" json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool               `dynamodbav:"cancelAtPeriodEnd" json:"cancelAtPeriodEnd"`
}

type GiftingPreferences struct {
	Interests       []string  `dynamodbav:"interests" json:"interests"`
	Style           []string  `dynamodbav:"style" json:"style"`
	AvoidCategories []string  `dynamodbav:"avoidCategories,omitempty" json:"avoidCategories,omitempty"`
	Notes           string    `dynamodbav:"notes,omitempty" json:"notes,omitempty"`
	UpdatedAt       time.Time `dynamodbav:"updatedAt" json:"updatedAt"`
}

type User struct {
	Item
	ID               string                `dynamodbav:"id" json:"id" validate:"required"`
	Email            string                `dynamodbav:"email" json:"email" validate:"required,email"`
	Name             string                `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Image            string                `dynamodbav:"image,omitempty" json:"image,omitempty"`
	PasswordHash     string                `dynamodbav:"passwordHash,omitempty" json:"-"`
	StripeCustomerID string                `dynamodbav:"stripeCustomerId,omitempty" json:"stripeCustomerId,omitempty"`
	Subscription     *SubscriptionSnapshot `dynamodbav:"subscription,omitempty" json:"subscription,omitempty"`
	Preferences      *GiftingPreferences   `dynamodbav:"giftingPreferences,omitempty" json:"giftingPreferences,omitempty"`
	CreatedAt        time.Time             `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time             `dynamodbav:"updatedAt" json:"updatedAt"`
}

func (u User) Keys() Keys {
	return Keys{
		PK:     UserPK(u.ID),
		SK:     ProfileSK(u.ID),
		GSI1PK: EmailKey(u.Email),
		GSI1SK: UserPK(u.ID),
	}
}

// EmailClaim reserves an address for a single user. It shares the users
// table with the profiles and carries no GSI1 keys.
type EmailClaim struct {
	Item
	Email     string    `dynamodbav:"email" validate:"required,email"`
	UserID    string    `dynamodbav:"userId" validate:"required"`
	CreatedAt time.Time `dynamodbav:"createdAt"`
}

func (c EmailClaim) Keys() Keys {
	return Keys{PK: EmailKey(c.Email), SK: EmailKey(c.Email)}
}

// UsersTTLAttribute expires the short-lived records of the users table.
// Profiles and claims never carry it.
const UsersTTLAttribute = "expires"

// SignInLink records that an email sign-in link was used. Expires is the
// link's own expiry, after which the table TTL drops the record.
type SignInLink struct {
	Item
	Email   string    `dynamodbav:"email" validate:"required"`
	LinkID  string    `dynamodbav:"linkId" validate:"required"`
	UsedAt  time.Time `dynamodbav:"usedAt"`
	Expires int64     `dynamodbav:"expires"`
}

func (l SignInLink) Keys() Keys {
	return Keys{PK: SignInLinkPK(l.Email), SK: SignInLinkSK(l.LinkID)}
}

type ShippingAddress struct {
	Street     string `dynamodbav:"street" json:"street" validate:"required"`
	City       string `dynamodbav:"city" json:"city" validate:"required"`
	State      string `dynamodbav:"state" json:"state" validate:"required"`
	PostalCode string `dynamodbav:"postalCode" json:"postalCode" validate:"required"`
	Country    string `dynamodbav:"country" json:"country" validate:"required"`
}

// Gift is a gift request owned by one user.
type Gift struct {
	Item
	ID                  string           `dynamodbav:"id" json:"id" validate:"required"`
	UserID              string           `dynamodbav:"userId" json:"userId" validate:"required"`
	RecipientName       string           `dynamodbav:"recipientName" json:"recipientName" validate:"required"`
	Occasion            string           `dynamodbav:"occasion" json:"occasion" validate:"required"`
	DueDate             string           `dynamodbav:"dueDate" json:"dueDate" validate:"required,datetime=2006-01-02"`
	Status              GiftStatus       `dynamodbav:"status" json:"status" validate:"oneof=pending processing shipped"`
	RecipientStyle      []string         `dynamodbav:"recipientStyle,omitempty" json:"recipientStyle,omitempty"`
	RecipientInterests  []string         `dynamodbav:"recipientInterests,omitempty" json:"recipientInterests,omitempty"`
	RelationshipContext string           `dynamodbav:"relationshipContext,omitempty" json:"relationshipContext,omitempty"`
	AestheticImages     []string         `dynamodbav:"aestheticImages,omitempty" json:"aestheticImages,omitempty"`
	AdditionalInfo      string           `dynamodbav:"additionalInfo,omitempty" json:"additionalInfo,omitempty"`
	ShippingAddress     *ShippingAddress `dynamodbav:"shippingAddress,omitempty" json:"shippingAddress,omitempty"`
	CreatedAt           time.Time        `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt           time.Time        `dynamodbav:"updatedAt" json:"updatedAt"`
}

func (g Gift) Keys() Keys {
	return Keys{
		PK:     UserPK(g.UserID),
		SK:     GiftSK(g.ID),
		GSI1PK: GiftStatusKey(g.Status),
		GSI1SK: g.DueDate,
	}
}

// Subscription is the latest known state of one billing subscription.
// Every field is copied from the billing object so that re-applying the same
// event writes an identical record.
type Subscription struct {
	Item
	UserID             string             `dynamodbav:"userId" json:"userId" validate:"required"`
	CustomerID         string             `dynamodbav:"stripeCustomerId" json:"stripeCustomerId" validate:"required"`
	ID                 string             `dynamodbav:"stripeSubscriptionId" json:"stripeSubscriptionId" validate:"required"`
	Status             SubscriptionStatus `dynamodbav:"status" json:"status" validate:"oneof=active canceled past_due incomplete incomplete_expired trialing unpaid"`
	Plan               string             `dynamodbav:"plan" json:"plan" validate:"required"`
	PriceID            string             `dynamodbav:"priceId" json:"priceId"`
	Quantity           int64              `dynamodbav:"quantity" json:"quantity"`
	CurrentPeriodStart time.Time          `dynamodbav:"currentPeriodStart" json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time          `dynamodbav:"currentPeriodEnd" json:"currentPeriodEnd"`
	CancelAtPeriodEnd  bool               `dynamodbav:"cancelAtPeriodEnd" json:"cancelAtPeriodEnd"`
	CreatedAt          time.Time          `dynamodbav:"createdAt" json:"createdAt"`
}

func (s Subscription) Keys() Keys {
	return Keys{
		PK:     UserPK(s.UserID),
		SK:     SubscriptionSK(s.ID),
		GSI1PK: SubscriptionStatusKey(s.Status),
		GSI1SK: FormatTime(s.CurrentPeriodEnd),
	}
}

// Snapshot is the profile copy of s.
func (s Subscription) Snapshot() SubscriptionSnapshot {
	return SubscriptionSnapshot{
		ID:                s.ID,
		Status:            s.Status,
		Plan:              s.Plan,
		CurrentPeriodEnd:  s.CurrentPeriodEnd,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
}

type Payment struct {
	Item
	UserID          string    `dynamodbav:"userId" json:"userId" validate:"required"`
	CustomerID      string    `dynamodbav:"stripeCustomerId" json:"stripeCustomerId"`
	PaymentIntentID string    `dynamodbav:"stripePaymentIntentId" json:"stripePaymentIntentId" validate:"required"`
	Amount          int64     `dynamodbav:"amount" json:"amount"`
	Currency        string    `dynamodbav:"currency" json:"currency"`
	Status          string    `dynamodbav:"status" json:"status" validate:"required"`
	PaymentMethod   string    `dynamodbav:"paymentMethod,omitempty" json:"paymentMethod,omitempty"`
	CreatedAt       time.Time `dynamodbav:"createdAt" json:"createdAt"`
}

func (p Payment) Keys() Keys {
	return Keys{
		PK:     UserPK(p.UserID),
		SK:     PaymentSK(p.PaymentIntentID),
		GSI1PK: PaymentStatusKey(p.Status),
		GSI1SK: FormatTime(p.CreatedAt),
	}
}

// NewsletterSubscriber lives in its own single-key table, keyed by the
// normalized email.
type NewsletterSubscriber struct {
	Email             string           `dynamodbav:"email" json:"email"`
	SubscribedAt      time.Time        `dynamodbav:"subscribed_at" json:"subscribed_at"`
	Status            NewsletterStatus `dynamodbav:"status" json:"status"`
	VerificationToken string           `dynamodbav:"verification_token,omitempty" json:"-"`
	VerifiedAt        *time.Time       `dynamodbav:"verified_at,omitempty" json:"verified_at,omitempty"`
	UnsubscribedAt    *time.Time       `dynamodbav:"unsubscribed_at,omitempty" json:"unsubscribed_at,omitempty"`
}

// EmailTrackingRecord records one sent message per recipient. ExpiresAt is
// filled by the table TTL when left at zero.
type EmailTrackingRecord struct {
	EmailID   string     `dynamodbav:"email_id"`
	Recipient string     `dynamodbav:"recipient"`
	Subject   string     `dynamodbav:"subject"`
	Type      string     `dynamodbav:"type"`
	Status    string     `dynamodbav:"status"`
	SentAt    time.Time  `dynamodbav:"sent_at"`
	UpdatedAt *time.Time `dynamodbav:"updated_at,omitempty"`
	ExpiresAt int64      `dynamodbav:"expires_at,omitempty"`
}

// FormatTime renders t the way timestamps appear in sort keys.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
