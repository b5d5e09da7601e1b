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

// Package giftedservice is the backend of a gift-curation subscription
// service: users subscribe to a plan, describe the people they want to give
// gifts to, and curators fulfil those gift requests.
//
// Layout:
//
//  1. dyndb: generic, typed DynamoDB store with a fluent query builder and
//     an in-memory implementation.
//  2. keyspace: the single-table key space (USER#, PROFILE#, GIFT#, SUB#,
//     PAYMENT#, EMAIL# and the GSI1 index) and the tables built on it.
//  3. envloader: environment variables into structs through "env" and
//     "envDefault" tags.
//  4. pkg/reconciler: mirrors billing webhooks into subscription, payment
//     and profile records.
//  5. pkg/newsletter, pkg/mailer: double opt-in list, SES feedback and
//     transactional email.
//  6. pkg/accounts, pkg/session, pkg/gifts, pkg/checkout, pkg/storage: the
//     dashboard features.
//  7. pkg/httpapi, pkg/transport: the gorilla/mux router and its local,
//     API Gateway and SNS entry points.
//  8. cmd/server runs the service; cmd/provision creates the tables.
//
// Quick start with in-memory tables:
//
//	STORAGE_DRIVER=memory \
//	NEXT_PUBLIC_APP_URL=http://localhost:3000 \
//	STRIPE_SECRET_KEY=sk_test_... STRIPE_WEBHOOK_SECRET=whsec_... \
//	AWS_SES_AUTH_FROM_EMAIL=auth@example.com \
//	AWS_SES_NEWSLETTER_FROM_EMAIL=news@example.com \
//	SESSION_SECRET=$(openssl rand -hex 32) \
//	go run ./cmd/server
package giftedservice
