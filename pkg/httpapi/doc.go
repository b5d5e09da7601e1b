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

// Package httpapi is the HTTP surface of the service, routed with
// gorilla/mux. The same router serves the local runtime and API Gateway
// through transport.LambdaHandler.
//
// Routes:
//
//	POST /api/webhooks/stripe                          billing webhook
//	POST /api/ses-events                               SES feedback over SNS
//	POST /api/newsletter/subscribe
//	GET  /api/newsletter/verify?email=&token=
//	GET  /api/newsletter/unsubscribe?email=            redirects to <app>/unsubscribed
//	POST /api/auth/register
//	POST /api/auth/credentials                         issues the session token
//	POST /api/auth/email                               mails a sign-in link
//	GET  /api/auth/callback/email?token=               completes the sign-in link
//	POST /api/auth/set-password                        (session)
//	GET  /api/user/preferences, POST                   (session)
//	GET  /api/user/subscription                        (session)
//	POST /api/user/subscription/{id}/cancel            (session)
//	GET  /api/gifts, POST                              (session)
//	GET  /api/gifts/{id}, PUT                          (session)
//	POST /api/gifts/{id}/images                        (session)
//	POST /api/create-checkout-session                  (session)
//	GET  /api/admin/gifts?status=&from=&to=            (admin)
//	PUT  /api/admin/users/{userId}/gifts/{id}/status   (admin)
//	GET  /healthz
//
// Errors are written as {"error": "<reason>", "message": "<text>"} with the
// status chosen by StatusFor.
package httpapi
