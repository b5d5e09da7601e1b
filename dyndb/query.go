package dyndb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// queryRunner executes a built query against a concrete backend.
type queryRunner[T any] interface {
	runQuery(ctx context.Context, qb *QueryBuilder[T]) ([]T, string, error)
	runScan(ctx context.Context, qb *QueryBuilder[T]) ([]T, string, error)
}

// QueryBuilder is the fluent builder returned by Store.Query and Store.Scan.
type QueryBuilder[T any] struct {
	runner    queryRunner[T]
	indexName string
	keyConds  []Condition
	filters   []Condition
	limit     int32
	lastKey   map[string]types.AttributeValue
	forward   bool
	isScan    bool
}

func newQueryBuilder[T any](runner queryRunner[T], scan bool) *QueryBuilder[T] {
	return &QueryBuilder[T]{runner: runner, forward: true, isScan: scan}
}

func (qb *QueryBuilder[T]) Index(name string) *QueryBuilder[T] {
	qb.indexName = name
	return qb
}

func (qb *QueryBuilder[T]) KeyEqual(key string, value any) *QueryBuilder[T] {
	qb.keyConds = append(qb.keyConds, Condition{Name: key, Op: OpEqual, Values: []any{value}})
	return qb
}

func (qb *QueryBuilder[T]) KeyBeginsWith(key, prefix string) *QueryBuilder[T] {
	qb.keyConds = append(qb.keyConds, Condition{Name: key, Op: OpBeginsWith, Values: []any{prefix}})
	return qb
}

func (qb *QueryBuilder[T]) KeyBetween(key string, lower, upper any) *QueryBuilder[T] {
	qb.keyConds = append(qb.keyConds, Condition{Name: key, Op: OpBetween, Values: []any{lower, upper}})
	return qb
}

func (qb *QueryBuilder[T]) KeyGreaterOrEqual(key string, value any) *QueryBuilder[T] {
	qb.keyConds = append(qb.keyConds, Condition{Name: key, Op: OpGreaterEqual, Values: []any{value}})
	return qb
}

func (qb *QueryBuilder[T]) KeyLessOrEqual(key string, value any) *QueryBuilder[T] {
	qb.keyConds = append(qb.keyConds, Condition{Name: key, Op: OpLessEqual, Values: []any{value}})
	return qb
}

func (qb *QueryBuilder[T]) FilterEqual(field string, value any) *QueryBuilder[T] {
	qb.filters = append(qb.filters, Condition{Name: field, Op: OpEqual, Values: []any{value}})
	return qb
}

func (qb *QueryBuilder[T]) FilterContains(field, value string) *QueryBuilder[T] {
	qb.filters = append(qb.filters, Condition{Name: field, Op: OpContains, Values: []any{value}})
	return qb
}

func (qb *QueryBuilder[T]) Limit(n int32) *QueryBuilder[T] {
	qb.limit = n
	return qb
}

// Descending returns results in descending sort key order.
func (qb *QueryBuilder[T]) Descending() *QueryBuilder[T] {
	qb.forward = false
	return qb
}

// LastKey resumes from a token returned by a previous Exec. Invalid tokens
// are ignored and the query starts from the beginning.
func (qb *QueryBuilder[T]) LastKey(token string) *QueryBuilder[T] {
	if key, err := decodeToken(token); err == nil {
		qb.lastKey = key
	}
	return qb
}

// KeyConditions returns the structured key conditions of the builder.
func (qb *QueryBuilder[T]) KeyConditions() []Condition { return qb.keyConds }

// IndexName returns the index targeted by the builder, or "" for the table.
func (qb *QueryBuilder[T]) IndexName() string { return qb.indexName }

// Exec runs one page of the query (or scan) and returns the page token of
// the next one, "" when there is none.
func (qb *QueryBuilder[T]) Exec(ctx context.Context) ([]T, string, error) {
	if qb.isScan || len(qb.keyConds) == 0 {
		return qb.runner.runScan(ctx, qb)
	}
	return qb.runner.runQuery(ctx, qb)
}

// All follows page tokens until the result set is exhausted.
func (qb *QueryBuilder[T]) All(ctx context.Context) ([]T, error) {
	var out []T
	for {
		page, token, err := qb.Exec(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if token == "" {
			return out, nil
		}
		qb.LastKey(token)
	}
}

// expression assembles the SDK expression for DynamoDB backends.
func (qb *QueryBuilder[T]) expression() (expression.Expression, error) {
	builder := expression.NewBuilder()

	if len(qb.keyConds) > 0 && !qb.isScan {
		var keyCond *expression.KeyConditionBuilder
		for _, c := range qb.keyConds {
			next, err := keyCondition(c)
			if err != nil {
				return expression.Expression{}, err
			}
			if keyCond == nil {
				keyCond = &next
			} else {
				tmp := keyCond.And(next)
				keyCond = &tmp
			}
		}
		builder = builder.WithKeyCondition(*keyCond)
	}

	filters := qb.filters
	if qb.isScan {
		// a scan has no key condition; key constraints become filters
		filters = append(append([]Condition{}, qb.keyConds...), qb.filters...)
	}
	if len(filters) > 0 {
		var filter *expression.ConditionBuilder
		for _, c := range filters {
			next, err := filterCondition(c)
			if err != nil {
				return expression.Expression{}, err
			}
			if filter == nil {
				filter = &next
			} else {
				tmp := filter.And(next)
				filter = &tmp
			}
		}
		builder = builder.WithFilter(*filter)
	}

	return builder.Build()
}

func keyCondition(c Condition) (expression.KeyConditionBuilder, error) {
	key := expression.Key(c.Name)
	switch c.Op {
	case OpEqual:
		return key.Equal(expression.Value(c.Values[0])), nil
	case OpBeginsWith:
		return key.BeginsWith(fmt.Sprint(c.Values[0])), nil
	case OpBetween:
		return key.Between(expression.Value(c.Values[0]), expression.Value(c.Values[1])), nil
	case OpGreaterEqual:
		return key.GreaterThanEqual(expression.Value(c.Values[0])), nil
	case OpLessEqual:
		return key.LessThanEqual(expression.Value(c.Values[0])), nil
	default:
		return expression.KeyConditionBuilder{}, fmt.Errorf("dyndb: operator %q not allowed in key condition", c.Op)
	}
}

func filterCondition(c Condition) (expression.ConditionBuilder, error) {
	name := expression.Name(c.Name)
	switch c.Op {
	case OpEqual:
		return name.Equal(expression.Value(c.Values[0])), nil
	case OpBeginsWith:
		return name.BeginsWith(fmt.Sprint(c.Values[0])), nil
	case OpBetween:
		return name.Between(expression.Value(c.Values[0]), expression.Value(c.Values[1])), nil
	case OpGreaterEqual:
		return name.GreaterThanEqual(expression.Value(c.Values[0])), nil
	case OpLessEqual:
		return name.LessThanEqual(expression.Value(c.Values[0])), nil
	case OpContains:
		return name.Contains(fmt.Sprint(c.Values[0])), nil
	default:
		return expression.ConditionBuilder{}, fmt.Errorf("dyndb: unsupported filter operator %q", c.Op)
	}
}

// encodeToken turns a LastEvaluatedKey into an opaque, URL-safe page token.
func encodeToken(lastKey map[string]types.AttributeValue) (string, error) {
	if len(lastKey) == 0 {
		return "", nil
	}
	var plain map[string]any
	if err := attributevalue.UnmarshalMap(lastKey, &plain); err != nil {
		return "", err
	}
	b, err := json.Marshal(plain)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func decodeToken(token string) (map[string]types.AttributeValue, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	var plain map[string]any
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, err
	}
	return attributevalue.MarshalMap(plain)
}
