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

// Package keyspace maps the service's entities onto the single-table item
// shape {pk, sk, GSI1PK, GSI1SK, ...attributes}.
//
// Each keyed entity derives its keys in one Keys method and Table stamps
// them on every write, including UpdateAttributes. A status change therefore
// always moves the record to its new GSI1 partition:
//
//	gift, err := tables.Gifts.UpdateAttributes(ctx, keyspace.UserPK(uid), keyspace.GiftSK(id),
//		func(g *keyspace.Gift) error {
//			g.Status = keyspace.GiftShipped
//			return nil
//		})
//
// Emails are normalized with NormalizeEmail before they reach any key.
package keyspace
