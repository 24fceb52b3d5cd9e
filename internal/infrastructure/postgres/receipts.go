package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Receipt is one durable row projected from a submitted settlement item.
type Receipt struct {
	OutcomeID  string
	GroupKey   string
	SubjectID  string
	ItemID     string
	Amount     decimal.Decimal
	SettledAt  time.Time
	RecordedAt time.Time
}

// ReceiptStore persists receipts projected by the receipt feed.
type ReceiptStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewReceiptStore creates a receipt store
func NewReceiptStore(pool *pgxpool.Pool, logger *zap.Logger) *ReceiptStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptStore{pool: pool, logger: logger}
}

// Record inserts receipts for one outcome. The insert is idempotent per
// (outcome_id, item_id) so a replayed outcome event does not duplicate rows.
func (s *ReceiptStore) Record(ctx context.Context, receipts []Receipt) error {
	if len(receipts) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO settlement_receipts (outcome_id, group_key, subject_id, item_id, amount, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (outcome_id, item_id) DO NOTHING
	`
	for _, r := range receipts {
		if _, err := tx.Exec(ctx, query,
			r.OutcomeID, r.GroupKey, r.SubjectID, r.ItemID, r.Amount, r.SettledAt,
		); err != nil {
			return fmt.Errorf("insert receipt: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("receipts recorded",
		zap.String("outcome_id", receipts[0].OutcomeID),
		zap.Int("count", len(receipts)))
	return nil
}

// BySubject returns the receipts recorded for a subject, newest first.
func (s *ReceiptStore) BySubject(ctx context.Context, subjectID string, limit int) ([]Receipt, error) {
	query := `
		SELECT outcome_id, group_key, subject_id, item_id, amount, settled_at, recorded_at
		FROM settlement_receipts
		WHERE subject_id = $1
		ORDER BY settled_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, subjectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		var r Receipt
		err := rows.Scan(&r.OutcomeID, &r.GroupKey, &r.SubjectID, &r.ItemID,
			&r.Amount, &r.SettledAt, &r.RecordedAt)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}
