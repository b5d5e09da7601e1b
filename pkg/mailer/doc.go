// Package mailer sends the service's transactional email through Amazon SES
// v2 and writes a tracking record per recipient, keyed by the SES message id
// so that bounce and complaint notifications can be matched back.
package mailer
