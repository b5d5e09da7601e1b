package dyndb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/raywall/gifted-service/envloader"
)

const (
	maxBatchWrite = 25
	maxBatchGet   = 100
)

type dynamoStore[T any] struct {
	client DynamoDBClient
	cfg    TableConfig[T]
	now    func() time.Time
}

// New creates a Store backed by DynamoDB. When cfg has no table name, the
// DYNAMODB_* environment variables are used to fill it.
func New[T any](client DynamoDBClient, cfg TableConfig[T]) Store[T] {
	if cfg.TableName == "" {
		_ = envloader.Load(&cfg)
	}

	return &dynamoStore[T]{
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (s *dynamoStore[T]) key(hashKey, sortKey any) map[string]types.AttributeValue {
	key := map[string]types.AttributeValue{
		s.cfg.HashKey: attr(hashKey),
	}
	if s.cfg.SortKey != "" && sortKey != nil {
		key[s.cfg.SortKey] = attr(sortKey)
	}
	return key
}

// Get reads one item by primary key.
func (s *dynamoStore[T]) Get(ctx context.Context, hashKey, sortKey any) (*T, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.TableName),
		Key:            s.key(hashKey, sortKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamostore: get failed: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var item T
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("dynamostore: unmarshal failed: %w", err)
	}
	return &item, nil
}

func (s *dynamoStore[T]) marshal(item T) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("dynamostore: marshal failed: %w", err)
	}
	if s.cfg.TTLAttribute != "" && s.cfg.TTL > 0 {
		if _, ok := av[s.cfg.TTLAttribute]; !ok {
			av[s.cfg.TTLAttribute] = attr(s.now().Add(s.cfg.TTL).Unix())
		}
	}
	return av, nil
}

// Put writes the item unconditionally.
func (s *dynamoStore[T]) Put(ctx context.Context, item T) error {
	av, err := s.marshal(item)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.TableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("dynamostore: put failed: %w", err)
	}
	return nil
}

// Create writes the item if its hash key is not taken yet.
func (s *dynamoStore[T]) Create(ctx context.Context, item T) error {
	cond := expression.AttributeNotExists(expression.Name(s.cfg.HashKey))
	if err := s.conditionalPut(ctx, item, cond); err != nil {
		if isConditionFailed(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("dynamostore: create failed: %w", err)
	}
	return nil
}

// Replace overwrites an existing item.
func (s *dynamoStore[T]) Replace(ctx context.Context, item T) error {
	cond := expression.AttributeExists(expression.Name(s.cfg.HashKey))
	if err := s.conditionalPut(ctx, item, cond); err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("dynamostore: replace failed: %w", err)
	}
	return nil
}

// TransactCreate writes item and companions atomically with TransactWriteItems.
func (s *dynamoStore[T]) TransactCreate(ctx context.Context, item T, companions ...any) error {
	av, err := s.marshal(item)
	if err != nil {
		return err
	}
	items := []map[string]types.AttributeValue{av}
	for _, c := range companions {
		cav, err := attributevalue.MarshalMap(c)
		if err != nil {
			return fmt.Errorf("dynamostore: marshal failed: %w", err)
		}
		items = append(items, cav)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(s.cfg.HashKey))).
		Build()
	if err != nil {
		return err
	}
	actions := make([]types.TransactWriteItem, 0, len(items))
	for _, it := range items {
		actions = append(actions, types.TransactWriteItem{Put: &types.Put{
			TableName:                aws.String(s.cfg.TableName),
			Item:                     it,
			ConditionExpression:      expr.Condition(),
			ExpressionAttributeNames: expr.Names(),
		}})
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: actions})
	if err != nil {
		if isTransactionConditionFailed(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("dynamostore: transact create failed: %w", err)
	}
	return nil
}

func (s *dynamoStore[T]) conditionalPut(ctx context.Context, item T, cond expression.ConditionBuilder) error {
	av, err := s.marshal(item)
	if err != nil {
		return err
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.cfg.TableName),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return err
}

// Update applies a partial update to an existing item. Keys with a nil
// value are removed from the item.
func (s *dynamoStore[T]) Update(ctx context.Context, hashKey, sortKey any, changes map[string]any) (*T, error) {
	if len(changes) == 0 {
		return s.Get(ctx, hashKey, sortKey)
	}
	item, err := s.update(ctx, hashKey, sortKey, changes, nil)
	if errors.Is(err, ErrConditionFailed) {
		return nil, ErrNotFound
	}
	return item, err
}

// UpdateIf applies the update only when the stored item satisfies conds.
func (s *dynamoStore[T]) UpdateIf(ctx context.Context, hashKey, sortKey any, changes map[string]any, conds ...Condition) (*T, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("dynamostore: conditional update without changes")
	}
	return s.update(ctx, hashKey, sortKey, changes, conds)
}

func (s *dynamoStore[T]) update(ctx context.Context, hashKey, sortKey any, changes map[string]any, conds []Condition) (*T, error) {
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Strings(names)

	var update expression.UpdateBuilder
	for _, name := range names {
		if changes[name] == nil {
			update = update.Remove(expression.Name(name))
			continue
		}
		update = update.Set(expression.Name(name), expression.Value(changes[name]))
	}

	cond := expression.AttributeExists(expression.Name(s.cfg.HashKey))
	for _, c := range conds {
		next, err := filterCondition(c)
		if err != nil {
			return nil, err
		}
		cond = cond.And(next)
	}

	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(cond).
		Build()
	if err != nil {
		return nil, fmt.Errorf("dynamostore: build update failed: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.cfg.TableName),
		Key:                       s.key(hashKey, sortKey),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrConditionFailed
		}
		return nil, fmt.Errorf("dynamostore: update failed: %w", err)
	}

	var item T
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("dynamostore: unmarshal failed: %w", err)
	}
	return &item, nil
}

// Delete removes an item. Deleting a missing item is not an error.
func (s *dynamoStore[T]) Delete(ctx context.Context, hashKey, sortKey any) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.cfg.TableName),
		Key:       s.key(hashKey, sortKey),
	})
	if err != nil {
		return fmt.Errorf("dynamostore: delete failed: %w", err)
	}
	return nil
}

// BatchWrite sends puts and deletes in chunks of 25 requests.
func (s *dynamoStore[T]) BatchWrite(ctx context.Context, puts []T, deletes [][2]any) error {
	var writeRequests []types.WriteRequest

	for _, item := range puts {
		itemMap, err := s.marshal(item)
		if err != nil {
			return fmt.Errorf("batchwrite: %w", err)
		}
		writeRequests = append(writeRequests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: itemMap},
		})
	}

	for _, key := range deletes {
		writeRequests = append(writeRequests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: s.key(key[0], key[1])},
		})
	}

	for i := 0; i < len(writeRequests); i += maxBatchWrite {
		end := min(i+maxBatchWrite, len(writeRequests))

		pending := map[string][]types.WriteRequest{
			s.cfg.TableName: writeRequests[i:end],
		}
		// unprocessed items are resubmitted a bounded number of times
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt == 3 {
				return fmt.Errorf("batchwrite: %d requests left unprocessed", len(pending[s.cfg.TableName]))
			}
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("batchwrite failed: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

// BatchGet reads up to 100 keys per call.
func (s *dynamoStore[T]) BatchGet(ctx context.Context, keys [][2]any) ([]T, error) {
	keysToGet := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		keysToGet = append(keysToGet, s.key(k[0], k[1]))
	}

	var results []T
	for i := 0; i < len(keysToGet); i += maxBatchGet {
		end := min(i+maxBatchGet, len(keysToGet))

		request := map[string]types.KeysAndAttributes{
			s.cfg.TableName: {Keys: keysToGet[i:end], ConsistentRead: aws.Bool(true)},
		}
		for attempt := 0; len(request) > 0; attempt++ {
			if attempt == 3 {
				return nil, fmt.Errorf("batchget: %d keys left unprocessed", len(request[s.cfg.TableName].Keys))
			}
			resp, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, fmt.Errorf("batchget failed: %w", err)
			}
			for _, item := range resp.Responses[s.cfg.TableName] {
				var t T
				if err := attributevalue.UnmarshalMap(item, &t); err != nil {
					return nil, fmt.Errorf("batchget: unmarshal failed: %w", err)
				}
				results = append(results, t)
			}
			request = resp.UnprocessedKeys
		}
	}

	return results, nil
}

// Query starts a fluent query.
func (s *dynamoStore[T]) Query() *QueryBuilder[T] {
	return newQueryBuilder[T](s, false)
}

// Scan starts a fluent scan.
func (s *dynamoStore[T]) Scan() *QueryBuilder[T] {
	return newQueryBuilder[T](s, true)
}

func (s *dynamoStore[T]) runQuery(ctx context.Context, qb *QueryBuilder[T]) ([]T, string, error) {
	expr, err := qb.expression()
	if err != nil {
		return nil, "", fmt.Errorf("dynamostore: build query failed: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.cfg.TableName),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(qb.forward),
		ExclusiveStartKey:         qb.lastKey,
	}
	if qb.indexName != "" {
		input.IndexName = aws.String(qb.indexName)
	}
	if qb.limit > 0 {
		input.Limit = aws.Int32(qb.limit)
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("dynamostore: query failed: %w", err)
	}
	return unmarshalPage[T](out.Items, out.LastEvaluatedKey)
}

func (s *dynamoStore[T]) runScan(ctx context.Context, qb *QueryBuilder[T]) ([]T, string, error) {
	expr, err := qb.expression()
	if err != nil {
		return nil, "", fmt.Errorf("dynamostore: build scan failed: %w", err)
	}

	input := &dynamodb.ScanInput{
		TableName:                 aws.String(s.cfg.TableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ExclusiveStartKey:         qb.lastKey,
	}
	if qb.indexName != "" {
		input.IndexName = aws.String(qb.indexName)
	}
	if qb.limit > 0 {
		input.Limit = aws.Int32(qb.limit)
	}

	out, err := s.client.Scan(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("dynamostore: scan failed: %w", err)
	}
	return unmarshalPage[T](out.Items, out.LastEvaluatedKey)
}

func unmarshalPage[T any](items []map[string]types.AttributeValue, lastKey map[string]types.AttributeValue) ([]T, string, error) {
	result := make([]T, 0, len(items))
	for _, item := range items {
		var t T
		if err := attributevalue.UnmarshalMap(item, &t); err != nil {
			return nil, "", fmt.Errorf("dynamostore: unmarshal failed: %w", err)
		}
		result = append(result, t)
	}

	token, err := encodeToken(lastKey)
	if err != nil {
		return nil, "", fmt.Errorf("dynamostore: encode page token: %w", err)
	}
	return result, token, nil
}

// attr converts any value to an AttributeValue.
func attr(v any) types.AttributeValue {
	if v == nil {
		return &types.AttributeValueMemberNULL{Value: true}
	}
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return &types.AttributeValueMemberNULL{Value: true}
	}
	return av
}
