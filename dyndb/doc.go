// Copyright 2025 Raywall Malheiros de Souza
// Licensed under the Mozilla Public License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	https://www.mozilla.org/en-US/MPL/2.0/
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dyndb provides a generic, strongly typed abstraction over the AWS
// DynamoDB Go SDK (v2).
//
// The Store[T] interface covers typed CRUD, conditional writes and batch
// operations, and hides the low level AttributeValue plumbing of the SDK.
//
// Main features:
//   - Typed CRUD: Get, Put, Delete on native Go types.
//   - Conditional writes: Create fails with ErrAlreadyExists when the key is
//     taken; Replace and Update fail with ErrNotFound when it is not.
//   - Batch: BatchWrite (puts and deletes, chunked by 25) and BatchGet
//     (chunked by 100), both resubmitting unprocessed requests.
//   - Fluent queries: Query().Index(...).KeyEqual(...).KeyBetween(...).Exec(ctx).
//   - Pagination: LastEvaluatedKey is exposed as an opaque URL-safe token.
//   - MemoryStore: an in-process Store evaluating the same conditions, for
//     tests and local runs.
//
// Basic usage:
//
//	type Gift struct {
//		PK string `dynamodbav:"pk"`
//		SK string `dynamodbav:"sk"`
//	}
//
//	cfg := dyndb.TableConfig[Gift]{TableName: "Gifts", HashKey: "pk", SortKey: "sk"}
//	gifts := dyndb.New(dynamodb.NewFromConfig(awsCfg), cfg)
//
//	if err := gifts.Create(ctx, Gift{PK: "USER#1", SK: "GIFT#1"}); errors.Is(err, dyndb.ErrAlreadyExists) {
//		// ...
//	}
//
// Query on a secondary index:
//
//	results, token, err := gifts.Query().
//		Index("GSI1").
//		KeyEqual("GSI1PK", "GIFT#pending").
//		KeyBetween("GSI1SK", "2025-01-01", "2025-03-31").
//		Limit(50).
//		Exec(ctx)
//
// When TableConfig.TableName is empty, New fills the configuration from the
// DYNAMODB_* environment variables.
package dyndb
