package request

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testRecord(card string, createdOn time.Time, items ...RawItem) RawRecord {
	return RawRecord{
		PatientCardNumber:    card,
		PatientFirstName:     "Abeba",
		PatientLastName:      "Kebede",
		RequestedBy:          "Dr. Alemu",
		RequestingDepartment: "Internal Medicine",
		RequestGroup:         "BATCH-7",
		CreatedOn:            createdOn,
		RequestedItems:       items,
	}
}

func TestNormalizeSkipsMalformedRecords(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	item := RawItem{ID: 1, RequestedServices: "CBC", Price: decimal.NewFromInt(50)}

	records := []RawRecord{
		testRecord("", now, item),               // no card number
		testRecord("CARD-1", time.Time{}, item), // no timestamp
		testRecord("CARD-2", now, item),
	}

	n := NewNormalizer(nil)
	items, report := n.Normalize(records)

	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if report.Skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", report.Skipped)
	}
	if report.Records != 3 || report.Items != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if items[0].SubjectID != "CARD-2" {
		t.Errorf("expected item from CARD-2, got %s", items[0].SubjectID)
	}
}

func TestNormalizeFiltersInactiveStatuses(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		rawCode int
		kept    bool
		status  Status
	}{
		{"ordered", 0, true, StatusOrdered},
		{"paid", 1, true, StatusPaid},
		{"waiting", 5, true, StatusWaitingForPayment},
		{"completed", 2, false, ""},
		{"cancelled", 3, false, ""},
		{"unknown", 42, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord("CARD-1", now, RawItem{
				ID:                7,
				RequestedServices: "X-Ray",
				Price:             decimal.NewFromInt(120),
				RequestedStatusID: tt.rawCode,
			})

			items, report := NewNormalizer(nil).Normalize([]RawRecord{rec})

			if tt.kept {
				if len(items) != 1 {
					t.Fatalf("expected item kept, got %d", len(items))
				}
				if items[0].Status != tt.status {
					t.Errorf("expected status %s, got %s", tt.status, items[0].Status)
				}
			} else {
				if len(items) != 0 {
					t.Fatalf("expected item filtered, got %d", len(items))
				}
				if report.Filtered != 1 {
					t.Errorf("expected 1 filtered, got %d", report.Filtered)
				}
			}
		})
	}
}

func TestNormalizeClampsNegativePrice(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	rec := testRecord("CARD-1", now, RawItem{
		ID:    9,
		Price: decimal.NewFromInt(-30),
	})

	items, _ := NewNormalizer(nil).Normalize([]RawRecord{rec})

	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if !items[0].Price.IsZero() {
		t.Errorf("expected price clamped to zero, got %s", items[0].Price)
	}
}

func TestNormalizeAnnotatesRecordMetadata(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	rec := testRecord("CARD-1", now, RawItem{ID: 3, Price: decimal.NewFromInt(10)})
	rec.PatientMiddleName = "T."

	items, _ := NewNormalizer(nil).Normalize([]RawRecord{rec})

	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	it := items[0]
	if it.SubjectName != "Abeba T. Kebede" {
		t.Errorf("unexpected subject name: %q", it.SubjectName)
	}
	if it.Clinician != "Dr. Alemu" || it.Department != "Internal Medicine" || it.BatchID != "BATCH-7" {
		t.Errorf("record metadata not carried: %+v", it)
	}
	if it.ID != "3" {
		t.Errorf("expected item ID 3, got %s", it.ID)
	}
}
