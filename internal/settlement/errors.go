package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation           = errors.New("settlement: invalid request")
	ErrCodeInvalidOrExpired = errors.New("settlement: code invalid or expired")
	ErrCustomerNotFound     = errors.New("settlement: customer not found")
	ErrNotACustomer         = errors.New("settlement: user is not a customer")
	ErrVendorNotFound       = errors.New("settlement: vendor not found")
	ErrNotAVendor           = errors.New("settlement: user is not a vendor of this store")
	ErrStoreNotFound        = errors.New("settlement: store not found")
	ErrStoreInactive        = errors.New("settlement: store is inactive")
	ErrRewardNotFound       = errors.New("settlement: reward not found")
	ErrRewardUnavailable    = errors.New("settlement: reward not available for this store")
	ErrInsufficientPoints   = errors.New("settlement: insufficient points")
	ErrDuplicateReference   = errors.New("settlement: duplicate reference")
	ErrPointsUpdateFailed   = errors.New("settlement: points update failed")
	ErrForbidden            = errors.New("settlement: forbidden")
)

// InsufficientPointsError carries the amounts behind ErrInsufficientPoints.
type InsufficientPointsError struct {
	Need decimal.Decimal
	Have decimal.Decimal
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("Insufficient points: need %s, have %s", e.Need.StringFixed(2), e.Have.StringFixed(2))
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Outcome names an error for metrics and API payloads.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "settled"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrCodeInvalidOrExpired):
		return "code_invalid_or_expired"
	case errors.Is(err, ErrCustomerNotFound):
		return "customer_not_found"
	case errors.Is(err, ErrNotACustomer):
		return "not_a_customer"
	case errors.Is(err, ErrVendorNotFound):
		return "vendor_not_found"
	case errors.Is(err, ErrNotAVendor):
		return "not_a_vendor"
	case errors.Is(err, ErrStoreNotFound):
		return "store_not_found"
	case errors.Is(err, ErrStoreInactive):
		return "store_inactive"
	case errors.Is(err, ErrRewardNotFound):
		return "reward_not_found"
	case errors.Is(err, ErrRewardUnavailable):
		return "reward_unavailable"
	case errors.Is(err, ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, ErrDuplicateReference):
		return "duplicate_reference"
	case errors.Is(err, ErrPointsUpdateFailed):
		return "points_update_failed"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "internal"
	}
}
