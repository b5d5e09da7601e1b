package dyndb

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	// ErrNotFound is returned when the item does not exist, including updates
	// and replaces that target a missing key.
	ErrNotFound = errors.New("dyndb: item not found")

	// ErrAlreadyExists is returned by Create when an item with the same key
	// is already stored.
	ErrAlreadyExists = errors.New("dyndb: item already exists")

	// ErrConditionFailed is returned by UpdateIf when the item is missing or
	// does not satisfy the conditions.
	ErrConditionFailed = errors.New("dyndb: condition not satisfied")

	// ErrUnknownIndex is returned when a query names an index that is not
	// declared in the TableConfig.
	ErrUnknownIndex = errors.New("dyndb: unknown index")
)

// DynamoDBClient abstracts the subset of the DynamoDB client used by the store.
type DynamoDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store is the generic, typed view over one table.
type Store[T any] interface {
	Get(ctx context.Context, hashKey, sortKey any) (*T, error)
	// Put writes the item unconditionally (upsert).
	Put(ctx context.Context, item T) error
	// Create writes the item only if no item with the same key exists.
	Create(ctx context.Context, item T) error
	// Replace overwrites the item only if it already exists.
	Replace(ctx context.Context, item T) error
	// TransactCreate writes item and every companion in one transaction,
	// each on condition that its key is free. Companions are any values that
	// marshal to a map carrying this table's key attributes. A taken key
	// fails the whole write with ErrAlreadyExists.
	TransactCreate(ctx context.Context, item T, companions ...any) error
	// Update sets (or, for nil values, removes) the given attributes of an
	// existing item and returns the item as stored after the update.
	Update(ctx context.Context, hashKey, sortKey any, changes map[string]any) (*T, error)
	// UpdateIf is Update guarded by conditions on the stored item. A missing
	// item or an unmet condition returns ErrConditionFailed.
	UpdateIf(ctx context.Context, hashKey, sortKey any, changes map[string]any, conds ...Condition) (*T, error)
	Delete(ctx context.Context, hashKey, sortKey any) error

	BatchWrite(ctx context.Context, puts []T, deletes [][2]any) error
	BatchGet(ctx context.Context, keys [][2]any) ([]T, error)

	Query() *QueryBuilder[T]
	Scan() *QueryBuilder[T]
}

// GlobalSecondaryIndex describes a GSI of the table.
type GlobalSecondaryIndex struct {
	Name           string               `env:"DYNAMODB_GSI_NAME"`
	HashKey        string               `env:"DYNAMODB_GSI_HASH_KEY"`
	SortKey        string               `env:"DYNAMODB_GSI_SORT_KEY"`
	ProjectionType types.ProjectionType `env:"DYNAMODB_GSI_PROJECTION_TYPE"`
}

// TableConfig describes the table a Store works on.
type TableConfig[T any] struct {
	TableName    string `env:"DYNAMODB_TABLE_NAME"`
	HashKey      string `env:"DYNAMODB_HASH_KEY"`
	SortKey      string `env:"DYNAMODB_SORT_KEY"`      // optional
	TTLAttribute string `env:"DYNAMODB_TTL_ATTRIBUTE"` // optional
	// TTL is added to the current time when a put item has no TTLAttribute.
	TTL     time.Duration `env:"DYNAMODB_TTL"`
	Indexes []GlobalSecondaryIndex
}

func (c TableConfig[T]) index(name string) (GlobalSecondaryIndex, bool) {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return GlobalSecondaryIndex{}, false
}

// Operator is a comparison used in key and filter conditions.
type Operator string

const (
	OpEqual        Operator = "="
	OpBeginsWith   Operator = "begins_with"
	OpBetween      Operator = "between"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpContains     Operator = "contains"
)

// Condition is a structured key or filter condition. Keeping conditions in
// this form (instead of only as expression builders) lets every Store
// implementation evaluate them.
type Condition struct {
	Name   string
	Op     Operator
	Values []any
}

// Equal is the condition name = value.
func Equal(name string, value any) Condition {
	return Condition{Name: name, Op: OpEqual, Values: []any{value}}
}
