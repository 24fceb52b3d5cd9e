package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemResult is the per-item outcome of one cancel or submit call.
type ItemResult struct {
	ItemID string          `json:"item_id"`
	Amount decimal.Decimal `json:"amount"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
}

// Outcome is the report of one settlement attempt. It is returned to the
// caller and serialized onto the outcome stream; it is never a durable
// record by itself.
type Outcome struct {
	OutcomeID  string       `json:"outcome_id"`
	GroupKey   string       `json:"group_key"`
	SubjectID  string       `json:"subject_id"`
	BatchID    string       `json:"batch_id"`
	Cancelled  []ItemResult `json:"cancelled"`
	Submitted  []ItemResult `json:"submitted"`
	Aborted    bool         `json:"aborted"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// SubmittedOK counts phase-2 successes.
func (o *Outcome) SubmittedOK() int {
	n := 0
	for _, r := range o.Submitted {
		if r.OK {
			n++
		}
	}
	return n
}

// CancelledOK counts phase-1 successes.
func (o *Outcome) CancelledOK() int {
	n := 0
	for _, r := range o.Cancelled {
		if r.OK {
			n++
		}
	}
	return n
}

// TotalSubmitted sums the amounts of successfully submitted items.
func (o *Outcome) TotalSubmitted() decimal.Decimal {
	total := decimal.Zero
	for _, r := range o.Submitted {
		if r.OK {
			total = total.Add(r.Amount)
		}
	}
	return total
}
