// Package request implements the clinical-request domain model: normalized
// request items, patient-visit grouping with derived status, and the
// per-group selection state prepared for settlement.
package request

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents request item status
type Status string

const (
	StatusOrdered           Status = "ORDERED"
	StatusWaitingForPayment Status = "WAITING_FOR_PAYMENT"
	StatusPaid              Status = "PAID"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
)

// Raw status codes used by the upstream clinical request service.
// Only the three active codes survive normalization.
const (
	rawStatusOrdered = 0
	rawStatusPaid    = 1
	rawStatusWaiting = 5
)

// statusFromRawCode maps an upstream status code to the closed enum.
// The second return is false for codes that are not settlement candidates.
func statusFromRawCode(code int) (Status, bool) {
	switch code {
	case rawStatusOrdered:
		return StatusOrdered, true
	case rawStatusPaid:
		return StatusPaid, true
	case rawStatusWaiting:
		return StatusWaitingForPayment, true
	default:
		return "", false
	}
}

// CanTransition reports whether moving from s to next is a legal forward
// transition. Paid, Completed and Cancelled never regress.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusOrdered:
		return next == StatusWaitingForPayment || next == StatusCancelled
	case StatusWaitingForPayment:
		return next == StatusPaid || next == StatusCancelled
	case StatusPaid:
		return next == StatusCompleted
	default:
		return false
	}
}

// Item is one orderable unit within a clinical request. Items are immutable
// snapshots produced by the normalizer; group membership never changes.
type Item struct {
	ID          string
	SubjectID   string
	CategoryID  string
	Description string
	Measure     string
	Count       string
	Duration    string
	Instruction string
	Price       decimal.Decimal
	Status      Status
	CreatedAt   time.Time
}
