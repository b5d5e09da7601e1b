package dyndb_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/raywall/gifted-service/dyndb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestGet_Success(t *testing.T) {
	t.Parallel()

	mockClient := &MockDynamoClient{}
	store := createTestStore(mockClient)

	expectedItem := map[string]types.AttributeValue{
		"id":    &types.AttributeValueMemberS{Value: "123"},
		"name":  &types.AttributeValueMemberS{Value: "John"},
		"email": &types.AttributeValueMemberS{Value: "john@example.com"},
	}

	mockClient.On("GetItem", mock.Anything, &dynamodb.GetItemInput{
		TableName:      aws.String("test-table"),
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "123"}},
		ConsistentRead: aws.Bool(true),
	}).Return(&dynamodb.GetItemOutput{Item: expectedItem}, nil)

	item, err := store.Get(context.Background(), "123", nil)

	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "123", item.ID)
	assert.Equal(t, "John", item.Name)
	mockClient.AssertExpectations(t)
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()

	mockClient := &MockDynamoClient{}
	store := createTestStoreWithSortKey(mockClient)

	mockClient.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return len(in.Key) == 2
	})).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := store.Get(context.Background(), "USER#1", "GIFT#1")
	assert.ErrorIs(t, err, dyndb.ErrNotFound)
}

func TestCreate_ConditionFailedIsAlreadyExists(t *testing.T) {
	t.Parallel()

	mockClient := &MockDynamoClient{}
	store := createTestStore(mockClient)

	mockClient.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return in.ConditionExpression != nil &&
			*in.ConditionExpression == "attribute_not_exists (#0)" &&
			in.ExpressionAttributeNames["#0"] == "id"
	})).Return(nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")})

	err := store.Create(context.Background(), TestItem{ID: "1", Name: "a"})
	assert.ErrorIs(t, err, dyndb.ErrAlreadyExists)
	mockClient.AssertExpectations(t)
}

func TestReplace_ConditionFailedIsNotFound(t *testing.T) {
	t.Parallel()

	mockClient := &MockDynamoClient{}
	store := createTestStore(mockClient)

	mockClient.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return in.ConditionExpression != nil && *in.ConditionExpression == "attribute_exists (#0)"
	})).Return(nil, &types.ConditionalCheckFailedException{})

	err := store.Replace(context.Background(), TestItem{ID: "1"})
	assert.ErrorIs(t, err, dyndb.ErrNotFound)
}

func TestUpdate_BuildsConditionalSetAndRemove(t *testing.T) {
	t.Parallel()

	mockClient := &MockDynamoClient{}
	store := createTestStore(mockClient)

	var captured *dynamodb.UpdateItemInput
	mockClient.On("UpdateItem", mock.Anything, mock.AnythingOfType("*dynamodb.UpdateItemInput")).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*dynamodb.UpdateItemInput) }).
		Return(&dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
			"id":   &types.AttributeValueMemberS{Value: "1"},
			"name": &types.AttributeValueMemberS{Value: "new"},
		}}, nil)

	item, err := store.Update(context.Background(), "1", nil, map[string]any{"name": "new", "email": nil})
	require.NoError(t, err)
	assert.Equal(t, "new", item.Name)

	require.NotNil(t, captured)
	assert.Equal(t, types.ReturnValueAllNew, captured.ReturnValues)
	require.NotNil(t, captured.ConditionExpression)
	assert.Contains(t, *captured.ConditionExpression, "attribute_exists")
	require.NotNil(t, captured.UpdateExpression)
	assert.Contains(t, *captured.UpdateExpression, "SET")
	assert.Contains(t, *captured.UpdateExpression, "REMOVE")
	assert.Equal(t, map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "1"}}, captured.Key)
}

func TestUpdate_MissingItemIsNotFound(t *testing.T) {
	t.Parallel()

	mockClient := &MockDynamoClient{}
	store := createTestStore(mockClient)

	mockClient.On("UpdateItem", mock.Anything, mock.Anything).
		Return(nil, &smithy.GenericAPIError{Code: "ConditionalCheckFailedException"})

	_, err := store.Update(context.Background(), "missing", nil, map[string]any{"name": "x"})
	assert.ErrorIs(t, err, dyndb.ErrNotFound)
}

func TestUpdateIf_AddsConditionsAndMapsFailure(t *testing.T) {
	t.Parallel()

	mockClient := &MockDynamoClient{}
	store := createTestStore(mockClient)

	var captured *dynamodb.UpdateItemInput
	mockClient.On("UpdateItem", mock.Anything, mock.AnythingOfType("*dynamodb.UpdateItemInput")).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*dynamodb.UpdateItemInput) }).
		Return(nil, &types.ConditionalCheckFailedException{})

	_, err := store.UpdateIf(context.Background(), "1", nil,
		map[string]any{"name": "new"},
		dyndb.Equal("email", "a@x.com"))
	assert.ErrorIs(t, err, dyndb.ErrConditionFailed)

	require.NotNil(t, captured)
	require.NotNil(t, captured.ConditionExpression)
	assert.Contains(t, *captured.ConditionExpression, "attribute_exists")
	assert.Contains(t, *captured.ConditionExpression, "AND")
	assert.Contains(t, captured.ExpressionAttributeValues, ":1")
}

func TestTransactCreate_ConditionsEveryPut(t *testing.T) {
	t.Parallel()

	mockClient := &MockDynamoClient{}
	store := createTestStore(mockClient)

	var captured *dynamodb.TransactWriteItemsInput
	mockClient.On("TransactWriteItems", mock.Anything, mock.AnythingOfType("*dynamodb.TransactWriteItemsInput")).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	err := store.TransactCreate(context.Background(), TestItem{ID: "1"}, TestItem{ID: "guard#1"})
	require.NoError(t, err)

	require.NotNil(t, captured)
	require.Len(t, captured.TransactItems, 2)
	for _, action := range captured.TransactItems {
		require.NotNil(t, action.Put)
		assert.Equal(t, "test-table", *action.Put.TableName)
		assert.Equal(t, "attribute_not_exists (#0)", *action.Put.ConditionExpression)
	}
}

func TestTransactCreate_CanceledByConditionIsAlreadyExists(t *testing.T) {
	t.Parallel()

	mockClient := &MockDynamoClient{}
	store := createTestStore(mockClient)

	mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).
		Return(nil, &types.TransactionCanceledException{
			CancellationReasons: []types.CancellationReason{
				{Code: aws.String("None")},
				{Code: aws.String("ConditionalCheckFailed")},
			},
		})

	err := store.TransactCreate(context.Background(), TestItem{ID: "1"}, TestItem{ID: "2"})
	assert.ErrorIs(t, err, dyndb.ErrAlreadyExists)
}

func TestQuery_UsesIndexAndKeyConditions(t *testing.T) {
	t.Parallel()

	mockClient := &MockDynamoClient{}
	store := createTestStoreWithSortKey(mockClient)

	mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return *in.TableName == "test-table" &&
			in.IndexName != nil && *in.IndexName == "GSI1" &&
			in.KeyConditionExpression != nil &&
			!*in.ScanIndexForward
	})).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{
			{
				"pk":   &types.AttributeValueMemberS{Value: "USER#1"},
				"sk":   &types.AttributeValueMemberS{Value: "GIFT#1"},
				"data": &types.AttributeValueMemberS{Value: "x"},
			},
		},
		LastEvaluatedKey: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: "USER#1"},
			"sk": &types.AttributeValueMemberS{Value: "GIFT#1"},
		},
	}, nil)

	items, token, err := store.Query().
		Index("GSI1").
		KeyEqual("GSI1PK", "GIFT#pending").
		KeyBetween("GSI1SK", "2025-01-01", "2025-12-31").
		Descending().
		Exec(context.Background())

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "GIFT#1", items[0].SK)
	assert.NotEmpty(t, token)
	mockClient.AssertExpectations(t)
}

func TestQuery_TokenRoundTrip(t *testing.T) {
	t.Parallel()

	mockClient := &MockDynamoClient{}
	store := createTestStoreWithSortKey(mockClient)

	lastKey := map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: "USER#1"},
		"sk": &types.AttributeValueMemberS{Value: "GIFT#9"},
	}
	mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey == nil
	})).Return(&dynamodb.QueryOutput{LastEvaluatedKey: lastKey}, nil).Once()
	mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey != nil
	})).Return(&dynamodb.QueryOutput{}, nil).Once()

	items, err := store.Query().KeyEqual("pk", "USER#1").All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)

	second := mockClient.Calls[1].Arguments.Get(1).(*dynamodb.QueryInput)
	assert.Equal(t, lastKey, second.ExclusiveStartKey)
}

func TestBatchWrite_ChunksRequests(t *testing.T) {
	t.Parallel()

	mockClient := &MockDynamoClient{}
	store := createTestStore(mockClient)

	mockClient.On("BatchWriteItem", mock.Anything, mock.Anything).
		Return(&dynamodb.BatchWriteItemOutput{}, nil)

	puts := make([]TestItem, 30)
	for i := range puts {
		puts[i] = TestItem{ID: string(rune('a' + i))}
	}
	require.NoError(t, store.BatchWrite(context.Background(), puts, nil))
	mockClient.AssertNumberOfCalls(t, "BatchWriteItem", 2)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, dyndb.IsRetryable(&smithy.GenericAPIError{Code: "ThrottlingException"}))
	assert.True(t, dyndb.IsRetryable(&types.ProvisionedThroughputExceededException{}))
	assert.False(t, dyndb.IsRetryable(&types.ConditionalCheckFailedException{}))
	assert.False(t, dyndb.IsRetryable(errors.New("boom")))
}
