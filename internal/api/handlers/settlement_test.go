package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/careops/go-settle/internal/domain/request"
	"github.com/careops/go-settle/internal/settlement"
)

type fakeSource struct {
	records []request.RawRecord
	err     error
}

func (f *fakeSource) FetchActiveRequests(ctx context.Context) ([]request.RawRecord, error) {
	return f.records, f.err
}

type fakeItemService struct {
	mu        sync.Mutex
	cancelled []string
	submitted []settlement.SubmitRequest
}

func (f *fakeItemService) CancelItem(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, itemID)
	return nil
}

func (f *fakeItemService) SubmitItem(ctx context.Context, req settlement.SubmitRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	return nil
}

var fixtureAt = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func fixtureRecords() []request.RawRecord {
	return []request.RawRecord{
		{
			PatientCardNumber: "CARD-1",
			PatientFirstName:  "Abeba",
			PatientLastName:   "Kebede",
			RequestedBy:       "Dr. Alemu",
			RequestGroup:      "BATCH-7",
			CreatedOn:         fixtureAt,
			RequestedItems: []request.RawItem{
				{ID: 1, RequestedServices: "CBC", Price: decimal.NewFromInt(50)},
				{ID: 2, RequestedServices: "X-Ray", Price: decimal.NewFromInt(120)},
			},
		},
		{
			PatientCardNumber: "CARD-2",
			PatientFirstName:  "Mulu",
			PatientLastName:   "Haile",
			CreatedOn:         fixtureAt.Add(time.Minute),
			RequestedItems: []request.RawItem{
				{ID: 3, RequestedServices: "MRI", Price: decimal.NewFromInt(900), RequestedStatusID: 5},
			},
		},
		// Malformed: no card number, counted as skipped.
		{
			CreatedOn: fixtureAt,
			RequestedItems: []request.RawItem{
				{ID: 4, Price: decimal.NewFromInt(10)},
			},
		},
	}
}

func newTestHandler(source *fakeSource, svc settlement.ItemService) *SettlementHandler {
	coord := settlement.NewCoordinator(svc,
		settlement.Config{Concurrency: 2, CallTimeout: time.Second}, nil, nil)
	return NewSettlementHandler(
		source, coord, request.NewNormalizer(nil), request.Grouper{},
		nil, nil, nil, nil)
}

func TestListGroups(t *testing.T) {
	h := newTestHandler(&fakeSource{records: fixtureRecords()}, &fakeItemService{})
	router := h.Routes()

	req := httptest.NewRequest("GET", "/groups", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ListGroupsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(resp.Groups))
	}
	if resp.Skipped != 1 {
		t.Errorf("expected 1 skipped record, got %d", resp.Skipped)
	}

	first := resp.Groups[0]
	if first.SubjectName != "Abeba Kebede" || len(first.Items) != 2 {
		t.Errorf("unexpected first group: %+v", first)
	}
	if first.Total != "170" {
		t.Errorf("expected total 170, got %s", first.Total)
	}
	if first.Status != string(request.StatusOrdered) {
		t.Errorf("expected ORDERED group, got %s", first.Status)
	}
	if resp.Groups[1].Status != string(request.StatusWaitingForPayment) {
		t.Errorf("expected WAITING group, got %s", resp.Groups[1].Status)
	}
}

func TestListGroupsFiltering(t *testing.T) {
	h := newTestHandler(&fakeSource{records: fixtureRecords()}, &fakeItemService{})
	router := h.Routes()

	req := httptest.NewRequest("GET", "/groups?term=mulu&status=WAITING_FOR_PAYMENT", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var resp ListGroupsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Groups) != 1 || resp.Groups[0].SubjectID != "CARD-2" {
		t.Fatalf("expected only CARD-2, got %+v", resp.Groups)
	}
}

func TestSettleGroup(t *testing.T) {
	svc := &fakeItemService{}
	h := newTestHandler(&fakeSource{records: fixtureRecords()}, svc)
	router := h.Routes()

	amount := "45"
	body, _ := json.Marshal(SettleRequest{
		Items: []SettleItem{
			{ID: "1", Included: true, Amount: &amount},
			{ID: "2", Included: false},
		},
	})

	key := "CARD-1-" + "1741944600000"
	req := httptest.NewRequest("POST", "/groups/"+key+"/settle", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var outcome settlement.Outcome
	if err := json.Unmarshal(rr.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if outcome.Aborted {
		t.Fatal("unexpected abort")
	}
	if outcome.GroupKey != key {
		t.Errorf("expected group key %s, got %s", key, outcome.GroupKey)
	}
	if len(svc.cancelled) != 1 || svc.cancelled[0] != "2" {
		t.Errorf("expected cancel of item 2, got %v", svc.cancelled)
	}
	if len(svc.submitted) != 1 || svc.submitted[0].ItemID != "1" {
		t.Fatalf("expected submission of item 1, got %+v", svc.submitted)
	}
	if !svc.submitted[0].Amount.Equal(decimal.NewFromInt(45)) {
		t.Errorf("expected override amount 45, got %s", svc.submitted[0].Amount)
	}
}

func TestSettleGroupNotFound(t *testing.T) {
	h := newTestHandler(&fakeSource{records: fixtureRecords()}, &fakeItemService{})
	router := h.Routes()

	req := httptest.NewRequest("POST", "/groups/CARD-99-0/settle",
		bytes.NewReader([]byte(`{"items":[]}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSettleGroupValidationFailure(t *testing.T) {
	svc := &fakeItemService{}
	h := newTestHandler(&fakeSource{records: fixtureRecords()}, svc)
	router := h.Routes()

	body, _ := json.Marshal(SettleRequest{
		Items: []SettleItem{
			{ID: "1", Included: false},
			{ID: "2", Included: false},
		},
	})

	req := httptest.NewRequest("POST", "/groups/CARD-1-1741944600000/settle",
		bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(svc.cancelled) != 0 || len(svc.submitted) != 0 {
		t.Errorf("validation failure must not touch the boundary")
	}
}

func TestSettleGroupPanelConstraint(t *testing.T) {
	records := fixtureRecords()
	records[0].RequestedItems[0].RequestCategory = "lab"
	records[0].RequestedItems[1].RequestCategory = "lab"

	svc := &fakeItemService{}
	h := newTestHandler(&fakeSource{records: records}, svc)
	router := h.Routes()

	body, _ := json.Marshal(SettleRequest{
		Items:  []SettleItem{{ID: "2", Included: false}},
		Panels: []string{"lab"},
	})

	req := httptest.NewRequest("POST", "/groups/CARD-1-1741944600000/settle",
		bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestListGroupsUpstreamFailure(t *testing.T) {
	h := newTestHandler(&fakeSource{err: context.DeadlineExceeded}, &fakeItemService{})
	router := h.Routes()

	req := httptest.NewRequest("GET", "/groups", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}
