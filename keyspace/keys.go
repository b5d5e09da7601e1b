package keyspace

import "strings"

const (
	userPrefix         = "USER#"
	profilePrefix      = "PROFILE#"
	emailPrefix        = "EMAIL#"
	giftPrefix         = "GIFT#"
	subscriptionPrefix = "SUB#"
	paymentPrefix      = "PAYMENT#"
	signInLinkPrefix   = "VT#"
)

// Key attribute and index names shared by every keyed table.
const (
	AttrPK     = "pk"
	AttrSK     = "sk"
	AttrGSI1PK = "GSI1PK"
	AttrGSI1SK = "GSI1SK"
	IndexGSI1  = "GSI1"
)

// Keys is the four-part key of a stored record.
type Keys struct {
	PK     string
	SK     string
	GSI1PK string
	GSI1SK string
}

// NormalizeEmail case-folds and trims an address. Every email that becomes
// key material or a lookup value goes through here first.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func UserPK(userID string) string { return userPrefix + userID }

func ProfileSK(userID string) string { return profilePrefix + userID }

// EmailKey is the GSI1 partition of a user profile.
func EmailKey(email string) string { return emailPrefix + NormalizeEmail(email) }

func GiftSK(giftID string) string { return giftPrefix + giftID }

func GiftStatusKey(status GiftStatus) string { return giftPrefix + string(status) }

// GiftSKPrefix selects every gift in a user partition.
const GiftSKPrefix = giftPrefix

func SubscriptionSK(subscriptionID string) string { return subscriptionPrefix + subscriptionID }

func SubscriptionStatusKey(status SubscriptionStatus) string {
	return subscriptionPrefix + string(status)
}

// SubscriptionSKPrefix selects every subscription in a user partition.
const SubscriptionSKPrefix = subscriptionPrefix

func PaymentSK(paymentIntentID string) string { return paymentPrefix + paymentIntentID }

func PaymentStatusKey(status string) string { return paymentPrefix + status }

// PaymentSKPrefix selects every payment in a user partition.
const PaymentSKPrefix = paymentPrefix

// SignInLinkPK partitions used sign-in links by address.
func SignInLinkPK(email string) string { return signInLinkPrefix + NormalizeEmail(email) }

func SignInLinkSK(linkID string) string { return signInLinkPrefix + linkID }
