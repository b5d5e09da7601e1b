// Package newsletter runs the double opt-in newsletter list: subscribe,
// verify and unsubscribe, plus SES bounce and complaint feedback delivered
// through SNS.
//
// Status moves pending -> active on verification, and pending or active ->
// unsubscribed on request or feedback. Unsubscribed is terminal.
package newsletter
