// Package billing wraps the Stripe API calls the service makes: fetching
// subscriptions, prices, customers and payment intents, cancelling at period
// end, creating customers and checkout sessions, and verifying webhook
// signatures.
package billing
