package keyspace

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/raywall/gifted-service/dyndb"
)

// TrackingTTL is how long email tracking records are kept.
const TrackingTTL = 90 * 24 * time.Hour

// TableNames holds the physical table names.
type TableNames struct {
	Users         string `yaml:"users" env:"AWS_DYNAMODB_USERS_TABLE" envDefault:"Users" validate:"required"`
	Gifts         string `yaml:"gifts" env:"AWS_DYNAMODB_GIFTS_TABLE" envDefault:"Gifts" validate:"required"`
	Subscriptions string `yaml:"subscriptions" env:"AWS_DYNAMODB_SUBSCRIPTIONS_TABLE" envDefault:"Subscriptions" validate:"required"`
	Payments      string `yaml:"payments" env:"AWS_DYNAMODB_PAYMENTS_TABLE" envDefault:"Payments" validate:"required"`
	Newsletter    string `yaml:"newsletter" env:"AWS_DYNAMODB_NEWSLETTER_TABLE" envDefault:"Newsletter" validate:"required"`
	EmailTracking string `yaml:"email_tracking" env:"AWS_DYNAMODB_EMAIL_TRACKING_TABLE" envDefault:"EmailTracking" validate:"required"`
}

// Tables bundles every table the service reads or writes.
type Tables struct {
	Users *Users
	// EmailClaims and SignInLinks live in the users table.
	EmailClaims   *EmailClaims
	SignInLinks   *SignInLinks
	Gifts         *Gifts
	Subscriptions *Subscriptions
	Payments      *Payments
	Newsletter    dyndb.Store[NewsletterSubscriber]
	EmailTracking dyndb.Store[EmailTrackingRecord]
}

// KeyedTableConfig is the dyndb configuration of the pk/sk/GSI1 tables.
func KeyedTableConfig[T any](name string) dyndb.TableConfig[T] {
	return dyndb.TableConfig[T]{
		TableName: name,
		HashKey:   AttrPK,
		SortKey:   AttrSK,
		Indexes: []dyndb.GlobalSecondaryIndex{{
			Name:           IndexGSI1,
			HashKey:        AttrGSI1PK,
			SortKey:        AttrGSI1SK,
			ProjectionType: types.ProjectionTypeAll,
		}},
	}
}

func newsletterConfig(name string) dyndb.TableConfig[NewsletterSubscriber] {
	return dyndb.TableConfig[NewsletterSubscriber]{TableName: name, HashKey: "email"}
}

func trackingConfig(name string) dyndb.TableConfig[EmailTrackingRecord] {
	return dyndb.TableConfig[EmailTrackingRecord]{
		TableName:    name,
		HashKey:      "email_id",
		SortKey:      "recipient",
		TTLAttribute: "expires_at",
		TTL:          TrackingTTL,
	}
}

// NewTables wires every table to DynamoDB.
func NewTables(client dyndb.DynamoDBClient, names TableNames) *Tables {
	return &Tables{
		Users:         NewTable[User, *User](dyndb.New(client, KeyedTableConfig[User](names.Users))),
		EmailClaims:   NewTable[EmailClaim, *EmailClaim](dyndb.New(client, KeyedTableConfig[EmailClaim](names.Users))),
		SignInLinks:   NewTable[SignInLink, *SignInLink](dyndb.New(client, KeyedTableConfig[SignInLink](names.Users))),
		Gifts:         NewTable[Gift, *Gift](dyndb.New(client, KeyedTableConfig[Gift](names.Gifts))),
		Subscriptions: NewTable[Subscription, *Subscription](dyndb.New(client, KeyedTableConfig[Subscription](names.Subscriptions))),
		Payments:      NewTable[Payment, *Payment](dyndb.New(client, KeyedTableConfig[Payment](names.Payments))),
		Newsletter:    dyndb.New(client, newsletterConfig(names.Newsletter)),
		EmailTracking: dyndb.New(client, trackingConfig(names.EmailTracking)),
	}
}

// NewMemoryTables backs every table with an in-process store.
func NewMemoryTables(names TableNames) *Tables {
	users := dyndb.NewMemoryStore(KeyedTableConfig[User](names.Users))
	return &Tables{
		Users:         NewTable[User, *User](users),
		EmailClaims:   NewTable[EmailClaim, *EmailClaim](dyndb.NewMemoryView[EmailClaim](users)),
		SignInLinks:   NewTable[SignInLink, *SignInLink](dyndb.NewMemoryView[SignInLink](users)),
		Gifts:         NewTable[Gift, *Gift](dyndb.NewMemoryStore(KeyedTableConfig[Gift](names.Gifts))),
		Subscriptions: NewTable[Subscription, *Subscription](dyndb.NewMemoryStore(KeyedTableConfig[Subscription](names.Subscriptions))),
		Payments:      NewTable[Payment, *Payment](dyndb.NewMemoryStore(KeyedTableConfig[Payment](names.Payments))),
		Newsletter:    dyndb.NewMemoryStore(newsletterConfig(names.Newsletter)),
		EmailTracking: dyndb.NewMemoryStore(trackingConfig(names.EmailTracking)),
	}
}

// TableDefinition is a CreateTable request plus the TTL attribute to enable
// once the table is active.
type TableDefinition struct {
	Input        *dynamodb.CreateTableInput
	TTLAttribute string
}

// Definitions describes every table for provisioning.
func Definitions(names TableNames) []TableDefinition {
	keyed := func(name string) TableDefinition {
		return TableDefinition{Input: &dynamodb.CreateTableInput{
			TableName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(AttrPK), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(AttrSK), KeyType: types.KeyTypeRange},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(AttrPK), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(AttrSK), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(AttrGSI1PK), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(AttrGSI1SK), AttributeType: types.ScalarAttributeTypeS},
			},
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
				IndexName: aws.String(IndexGSI1),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String(AttrGSI1PK), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String(AttrGSI1SK), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			}},
			BillingMode: types.BillingModePayPerRequest,
		}}
	}

	users := keyed(names.Users)
	users.TTLAttribute = UsersTTLAttribute

	return []TableDefinition{
		users,
		keyed(names.Gifts),
		keyed(names.Subscriptions),
		keyed(names.Payments),
		{Input: &dynamodb.CreateTableInput{
			TableName: aws.String(names.Newsletter),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("email"), KeyType: types.KeyTypeHash},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("email"), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		}},
		{
			Input: &dynamodb.CreateTableInput{
				TableName: aws.String(names.EmailTracking),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("email_id"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("recipient"), KeyType: types.KeyTypeRange},
				},
				AttributeDefinitions: []types.AttributeDefinition{
					{AttributeName: aws.String("email_id"), AttributeType: types.ScalarAttributeTypeS},
					{AttributeName: aws.String("recipient"), AttributeType: types.ScalarAttributeTypeS},
				},
				BillingMode: types.BillingModePayPerRequest,
			},
			TTLAttribute: "expires_at",
		},
	}
}
