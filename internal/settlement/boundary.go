// Package settlement implements the two-phase cancel/submit protocol that
// commits an operator's selection against the clinical request boundary.
package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/careops/go-settle/internal/domain/request"
)

// RequestSource is the inbound boundary: it yields the raw records the
// normalizer turns into settlement candidates.
type RequestSource interface {
	FetchActiveRequests(ctx context.Context) ([]request.RawRecord, error)
}

// SubmitRequest carries one included item to the boundary's submit
// primitive, with the references the upstream service needs to post the
// charge.
type SubmitRequest struct {
	ItemID    string
	SubjectID string
	BatchID   string
	Amount    decimal.Decimal
}

// ItemService is the outbound boundary. Both primitives are assumed
// idempotent-on-retry at the boundary; the coordinator issues each call at
// most once per settle attempt.
type ItemService interface {
	CancelItem(ctx context.Context, itemID string) error
	SubmitItem(ctx context.Context, req SubmitRequest) error
}

// TransportError wraps any failure crossing the item-service boundary so
// callers can distinguish transport faults from validation failures.
type TransportError struct {
	Op     string
	ItemID string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s item %s: %v", e.Op, e.ItemID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
