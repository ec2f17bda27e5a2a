package ledger

import "errors"

var (
	// ErrQuotaExceeded is returned when the remaining daily budget is below the cost
	ErrQuotaExceeded = errors.New("daily quota exceeded")

	// ErrInvalidCost is returned for a negative cost
	ErrInvalidCost = errors.New("invalid usage cost")
)
