package request

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RawRecord is one clinical request as returned by the upstream request
// service: subject identity, origin timestamp and a nested list of
// requested sub-items.
type RawRecord struct {
	PatientCardNumber    string    `json:"patientCardNumber"`
	PatientFirstName     string    `json:"patientFirstName"`
	PatientMiddleName    string    `json:"patientMiddleName"`
	PatientLastName      string    `json:"patientLastName"`
	RequestedBy          string    `json:"requestedBy"`
	RequestingDepartment string    `json:"requestingDepartment"`
	RequestGroup         string    `json:"requestGroup"`
	CreatedOn            time.Time `json:"createdOn"`
	RequestedItems       []RawItem `json:"requestedItems"`
}

// RawItem is one requested sub-item inside a raw record.
type RawItem struct {
	ID                int64           `json:"id"`
	RequestedServices string          `json:"requestedServices"`
	RequestCategory   string          `json:"requestCategory"`
	Measurement       string          `json:"measurement"`
	ProcedureCount    string          `json:"procedeureCount"`
	Duration          string          `json:"duration"`
	Instruction       string          `json:"instruction"`
	Price             decimal.Decimal `json:"price"`
	RequestedStatusID int             `json:"requestedStatusId"`
}

// SubjectName joins the patient name parts, skipping blanks.
func (r *RawRecord) SubjectName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.PatientFirstName, r.PatientMiddleName, r.PatientLastName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// NormalizeReport accounts for records the normalizer could not use.
// Malformed records are skipped and counted, never fatal to the batch.
type NormalizeReport struct {
	Records  int
	Items    int
	Skipped  int
	Filtered int
}

// Normalizer turns raw request records into immutable Items. Only items in
// one of the three active upstream states are retained; completed and
// cancelled items are not settlement candidates and are dropped silently.
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer creates a normalizer.
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize flattens records into items. Each returned record also carries
// the group-level metadata needed downstream, so normalization yields
// annotated items rather than bare ones.
func (n *Normalizer) Normalize(records []RawRecord) ([]AnnotatedItem, NormalizeReport) {
	report := NormalizeReport{Records: len(records)}
	var out []AnnotatedItem

	for i := range records {
		rec := &records[i]
		if rec.PatientCardNumber == "" || rec.CreatedOn.IsZero() {
			report.Skipped++
			n.logger.Warn("skipping malformed request record",
				zap.Int("index", i),
				zap.String("card_number", rec.PatientCardNumber),
				zap.Time("created_on", rec.CreatedOn))
			continue
		}

		for _, raw := range rec.RequestedItems {
			status, active := statusFromRawCode(raw.RequestedStatusID)
			if !active {
				report.Filtered++
				continue
			}

			price := raw.Price
			if price.IsNegative() {
				price = decimal.Zero
			}

			out = append(out, AnnotatedItem{
				Item: Item{
					ID:          strconv.FormatInt(raw.ID, 10),
					SubjectID:   rec.PatientCardNumber,
					CategoryID:  raw.RequestCategory,
					Description: raw.RequestedServices,
					Measure:     raw.Measurement,
					Count:       raw.ProcedureCount,
					Duration:    raw.Duration,
					Instruction: raw.Instruction,
					Price:       price,
					Status:      status,
					CreatedAt:   rec.CreatedOn,
				},
				SubjectName: rec.SubjectName(),
				Clinician:   rec.RequestedBy,
				Department:  rec.RequestingDepartment,
				BatchID:     rec.RequestGroup,
			})
			report.Items++
		}
	}

	return out, report
}

// AnnotatedItem is a normalized item plus the record-level metadata that the
// grouping engine lifts onto the group.
type AnnotatedItem struct {
	Item
	SubjectName string
	Clinician   string
	Department  string
	BatchID     string
}
