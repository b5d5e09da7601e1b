package reconciler

import "errors"

var (
	// ErrInvalidSignature rejects a webhook whose signature does not verify.
	ErrInvalidSignature = errors.New("reconciler: invalid webhook signature")

	// ErrForbidden rejects a cancel request for a subscription owned by
	// another user.
	ErrForbidden = errors.New("reconciler: subscription belongs to another user")

	ErrMissingCustomer = errors.New("reconciler: billing object has no customer")
	ErrMissingUserID   = errors.New("reconciler: customer metadata has no userId")
	ErrMissingPlan     = errors.New("reconciler: no plan in price or subscription metadata")
	ErrMissingID       = errors.New("reconciler: event carries no object id")
)

// IsDataIntegrity reports whether err signals bad upstream data rather than
// a transient failure. These are never retried into success.
func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrMissingCustomer) ||
		errors.Is(err, ErrMissingUserID) ||
		errors.Is(err, ErrMissingPlan) ||
		errors.Is(err, ErrMissingID)
}
