package request

import "errors"

// Failure taxonomy for selection and settlement validation. These are
// surfaced synchronously before any side effect and are recoverable by the
// caller adjusting the selection; ErrInvalidTransition indicates stale state
// and is fatal to the current operation.
var (
	ErrNothingSelected     = errors.New("no included item carries an amount")
	ErrMissingAmount       = errors.New("included item has no amount")
	ErrConstraintViolation = errors.New("item belongs to a committed panel")
	ErrItemNotIncluded     = errors.New("item is not included in the selection")
	ErrInvalidTransition   = errors.New("illegal status transition")
	ErrStateLocked         = errors.New("selection is locked by an in-flight settlement")
	ErrSettlementInFlight  = errors.New("a settlement is already in flight for this selection")
	ErrUnknownItem         = errors.New("item is not part of this group")
)
