package coupon

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Rejections. Each is a rule violation reported back to the caller as-is.
var (
	ErrCouponNotFound           = errors.New("coupon not found")
	ErrCouponInactive           = errors.New("coupon is not active")
	ErrCouponNotYetStarted      = errors.New("coupon is not valid yet")
	ErrCouponExpired            = errors.New("coupon expired")
	ErrMinimumAmountNotMet      = errors.New("order total is below the coupon minimum")
	ErrGlobalUsageLimitReached  = errors.New("coupon usage limit reached")
	ErrPerUserUsageLimitReached = errors.New("coupon usage limit reached for this user")
	ErrNoEligibleItems          = errors.New("coupon is not applicable to cart contents")
	ErrUserNotAllowed           = errors.New("coupon is not available for this user")
)

// ErrStoreUnavailable marks a failure of the coupon, usage or settings store.
// Unlike rejections it may be retried by the caller.
var ErrStoreUnavailable = errors.New("store unavailable")

// StoreError wraps a collaborator failure. It matches ErrStoreUnavailable
// with errors.Is and unwraps to the underlying cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports ErrStoreUnavailable as a match.
func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// Reason is the stable machine-readable name of a rejection.
type Reason string

const (
	ReasonNotFound          Reason = "COUPON_NOT_FOUND"
	ReasonInactive          Reason = "COUPON_INACTIVE"
	ReasonNotYetStarted     Reason = "COUPON_NOT_YET_STARTED"
	ReasonExpired           Reason = "COUPON_EXPIRED"
	ReasonMinimumAmount     Reason = "MINIMUM_AMOUNT_NOT_MET"
	ReasonGlobalUsageLimit  Reason = "GLOBAL_USAGE_LIMIT_REACHED"
	ReasonPerUserUsageLimit Reason = "PER_USER_USAGE_LIMIT_REACHED"
	ReasonNoEligibleItems   Reason = "NO_ELIGIBLE_ITEMS"
	ReasonUserNotAllowed    Reason = "USER_NOT_ALLOWED"
	ReasonStoreUnavailable  Reason = "STORE_UNAVAILABLE"
)

var reasons = []struct {
	err    error
	reason Reason
}{
	{ErrCouponNotFound, ReasonNotFound},
	{ErrCouponInactive, ReasonInactive},
	{ErrCouponNotYetStarted, ReasonNotYetStarted},
	{ErrCouponExpired, ReasonExpired},
	{ErrMinimumAmountNotMet, ReasonMinimumAmount},
	{ErrGlobalUsageLimitReached, ReasonGlobalUsageLimit},
	{ErrPerUserUsageLimitReached, ReasonPerUserUsageLimit},
	{ErrNoEligibleItems, ReasonNoEligibleItems},
	{ErrUserNotAllowed, ReasonUserNotAllowed},
	{ErrStoreUnavailable, ReasonStoreUnavailable},
}

// ReasonOf maps err to its rejection reason. The second result is false for
// errors that are neither rejections nor store failures.
func ReasonOf(err error) (Reason, bool) {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason, true
		}
	}
	return "", false
}

// IsRejection reports whether err is a business-rule rejection.
func IsRejection(err error) bool {
	r, ok := ReasonOf(err)
	return ok && r != ReasonStoreUnavailable
}
