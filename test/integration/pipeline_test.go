// Package integration provides integration tests for the settlement engine.
package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/careops/go-settle/internal/domain/request"
	"github.com/careops/go-settle/internal/settlement"
	"github.com/careops/go-settle/pkg/idempotency"
)

// upstream envelope as the request gateway returns it
const fixturePayload = `{
	"data": {
		"value": [
			{
				"patientCardNumber": "CARD-1001",
				"patientFirstName": "Abeba",
				"patientLastName": "Kebede",
				"requestedBy": "Dr. Alemu",
				"requestingDepartment": "Internal Medicine",
				"requestGroup": "BATCH-12",
				"createdOn": "2025-03-14T09:30:00Z",
				"requestedItems": [
					{"id": 101, "requestedServices": "CBC", "requestCategory": "lab", "price": "50", "requestedStatusId": 0},
					{"id": 102, "requestedServices": "Chest X-Ray", "requestCategory": "imaging", "price": "120", "requestedStatusId": 0},
					{"id": 103, "requestedServices": "Old order", "price": "10", "requestedStatusId": 3}
				]
			},
			{
				"patientCardNumber": "CARD-1002",
				"patientFirstName": "Mulu",
				"patientLastName": "Haile",
				"createdOn": "2025-03-14T10:00:00Z",
				"requestedItems": [
					{"id": 201, "requestedServices": "MRI", "price": "900", "requestedStatusId": 5}
				]
			}
		]
	}
}`

type envelope struct {
	Data struct {
		Value []request.RawRecord `json:"value"`
	} `json:"data"`
}

type recordingService struct {
	mu        sync.Mutex
	cancelled []string
	submitted []settlement.SubmitRequest
}

func (s *recordingService) CancelItem(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, itemID)
	return nil
}

func (s *recordingService) SubmitItem(ctx context.Context, req settlement.SubmitRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, req)
	return nil
}

func TestNormalizeGroupSettlePipeline(t *testing.T) {
	var env envelope
	if err := json.Unmarshal([]byte(fixturePayload), &env); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	items, report := request.NewNormalizer(nil).Normalize(env.Data.Value)
	if report.Items != 3 {
		t.Fatalf("expected 3 normalized items, got %d", report.Items)
	}
	if report.Filtered != 1 {
		t.Errorf("expected the cancelled item filtered, got %d", report.Filtered)
	}

	groups := request.Grouper{}.Group(items)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	first := groups[0]
	if first.Key.String() != "CARD-1001-1741944600000" {
		t.Errorf("unexpected group key: %s", first.Key.String())
	}
	if first.Status() != request.StatusOrdered {
		t.Errorf("expected ORDERED, got %s", first.Status())
	}

	// Narrow to the first patient and settle with one exclusion and one
	// price override.
	visible := request.Filter(groups, "abeba", request.StatusTabAll)
	if len(visible) != 1 {
		t.Fatalf("expected 1 filtered group, got %d", len(visible))
	}

	sel := request.NewSelection(visible[0])
	if err := sel.SetAmount("101", decimal.NewFromInt(45)); err != nil {
		t.Fatalf("SetAmount: %v", err)
	}
	if err := sel.Toggle("102", false); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	svc := &recordingService{}
	coord := settlement.NewCoordinator(svc,
		settlement.Config{Concurrency: 2, CallTimeout: time.Second}, nil, nil)

	outcome, err := coord.Settle(context.Background(), sel)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if outcome.Aborted {
		t.Fatal("unexpected abort")
	}
	if len(svc.cancelled) != 1 || svc.cancelled[0] != "102" {
		t.Errorf("expected cancel of 102, got %v", svc.cancelled)
	}
	if len(svc.submitted) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(svc.submitted))
	}
	sub := svc.submitted[0]
	if sub.ItemID != "101" || sub.SubjectID != "CARD-1001" || sub.BatchID != "BATCH-12" {
		t.Errorf("unexpected submission: %+v", sub)
	}
	if !outcome.TotalSubmitted().Equal(decimal.NewFromInt(45)) {
		t.Errorf("expected total 45, got %s", outcome.TotalSubmitted())
	}

	// The outcome round-trips through JSON the way the outbox relays it.
	raw, err := json.Marshal(outcome)
	if err != nil {
		t.Fatalf("marshal outcome: %v", err)
	}
	var replayed settlement.Outcome
	if err := json.Unmarshal(raw, &replayed); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if replayed.SubmittedOK() != 1 || replayed.GroupKey != outcome.GroupKey {
		t.Errorf("outcome did not survive the round trip: %+v", replayed)
	}
}

func TestIdempotencyKeyGeneration(t *testing.T) {
	payloadA := []byte(`{"items":[{"id":"101","included":true}]}`)
	payloadB := []byte(`{"items":[{"id":"101","included":false}]}`)

	key1 := idempotency.GenerateKey("CARD-1001-1741944600000", payloadA)
	key2 := idempotency.GenerateKey("CARD-1001-1741944600000", payloadA)
	key3 := idempotency.GenerateKey("CARD-1001-1741944600000", payloadB)
	key4 := idempotency.GenerateKey("CARD-1002-1741946400000", payloadA)

	if key1 != key2 {
		t.Error("same group and payload should produce the same key")
	}
	if key1 == key3 {
		t.Error("different selection payloads should produce different keys")
	}
	if key1 == key4 {
		t.Error("different groups should produce different keys")
	}
}
