package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/careops/go-settle/internal/domain/request"
	"github.com/careops/go-settle/internal/observability/metrics"
	"github.com/careops/go-settle/pkg/workerpool"
)

// Config holds coordinator configuration
type Config struct {
	// Concurrency caps the parallel boundary calls per phase
	Concurrency int
	// CallTimeout is the per-call timeout for each cancel/submit
	CallTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Concurrency: 8,
		CallTimeout: 10 * time.Second,
	}
}

// Coordinator executes the two-phase settlement protocol: cancel every
// excluded item, then — only if every cancellation succeeded — submit every
// included item. Phase 1 is all-or-nothing, phase 2 is best-effort per item.
type Coordinator struct {
	svc     ItemService
	config  Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewCoordinator creates a coordinator. metrics may be nil.
func NewCoordinator(svc ItemService, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	return &Coordinator{
		svc:     svc,
		config:  cfg,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("settlement-coordinator"),
	}
}

// Settle commits the selection. Validation failures are returned as errors
// before any side effect; phase-level failures are carried inside the
// returned Outcome. A failed cancellation is never followed by a
// submission.
func (c *Coordinator) Settle(ctx context.Context, sel *request.Selection) (*Outcome, error) {
	group := sel.Group()

	ctx, span := c.tracer.Start(ctx, "settle",
		trace.WithAttributes(
			attribute.String("group_key", group.Key.String()),
			attribute.Int("items", len(group.Items)),
		))
	defer span.End()

	if err := sel.BeginSettle(); err != nil {
		return nil, err
	}
	defer sel.EndSettle()

	snap := sel.Snapshot()
	if err := validate(snap); err != nil {
		span.RecordError(err)
		return nil, err
	}

	outcome := &Outcome{
		OutcomeID: uuid.New().String(),
		GroupKey:  group.Key.String(),
		SubjectID: group.SubjectID,
		BatchID:   group.BatchID,
		StartedAt: time.Now().UTC(),
	}
	if c.metrics != nil {
		c.metrics.SettlementsStarted.Inc()
		defer func() {
			c.metrics.SettleDuration.Observe(time.Since(outcome.StartedAt).Seconds())
		}()
	}

	// Phase 1: cancel excluded items. The phase is a barrier: all results
	// are collected before any submit is issued.
	excluded := selectEntries(snap, false)
	cancelled, cancelFailed := c.runCancelPhase(ctx, excluded)
	outcome.Cancelled = cancelled

	if cancelFailed {
		outcome.Aborted = true
		outcome.FinishedAt = time.Now().UTC()
		span.SetAttributes(attribute.Bool("aborted", true))
		if c.metrics != nil {
			c.metrics.SettlementsAborted.Inc()
		}
		c.logger.Warn("settlement aborted: cancellation failed",
			zap.String("group_key", outcome.GroupKey),
			zap.Int("cancelled_ok", outcome.CancelledOK()),
			zap.Int("cancel_total", len(outcome.Cancelled)))
		return outcome, nil
	}

	// Phase 2: submit included items, best effort per item.
	included := selectEntries(snap, true)
	outcome.Submitted = c.runSubmitPhase(ctx, group, included)
	outcome.FinishedAt = time.Now().UTC()

	c.logger.Info("settlement finished",
		zap.String("group_key", outcome.GroupKey),
		zap.Int("cancelled", len(outcome.Cancelled)),
		zap.Int("submitted_ok", outcome.SubmittedOK()),
		zap.Int("submit_total", len(outcome.Submitted)),
		zap.String("total_amount", outcome.TotalSubmitted().String()))

	return outcome, nil
}

// validate enforces the settle preconditions before any side effect.
func validate(snap []request.ItemSelection) error {
	payable := false
	for _, s := range snap {
		if s.Included && s.Amount.IsPositive() {
			payable = true
			break
		}
	}
	if !payable {
		return request.ErrNothingSelected
	}

	for _, s := range snap {
		if s.Included && !s.Amount.IsPositive() {
			return request.ErrMissingAmount
		}
	}

	for _, s := range snap {
		if !s.Included && !s.Item.Status.CanTransition(request.StatusCancelled) {
			return request.ErrInvalidTransition
		}
		if s.Included && !s.Item.Status.CanTransition(request.StatusWaitingForPayment) {
			return request.ErrInvalidTransition
		}
	}
	return nil
}

func selectEntries(snap []request.ItemSelection, included bool) []request.ItemSelection {
	var out []request.ItemSelection
	for _, s := range snap {
		if s.Included == included {
			out = append(out, s)
		}
	}
	return out
}

// runCancelPhase cancels every excluded item with bounded concurrency and
// reports whether any cancellation failed.
func (c *Coordinator) runCancelPhase(ctx context.Context, excluded []request.ItemSelection) ([]ItemResult, bool) {
	if len(excluded) == 0 {
		return nil, false
	}

	ctx, span := c.tracer.Start(ctx, "cancel_phase",
		trace.WithAttributes(attribute.Int("items", len(excluded))))
	defer span.End()

	results := c.fanOut(ctx, excluded, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()

		if err := c.svc.CancelItem(callCtx, task.ID); err != nil {
			return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
		}
		return &workerpool.Result{TaskID: task.ID, Success: true}
	})

	failed := false
	out := make([]ItemResult, 0, len(excluded))
	for _, s := range excluded {
		r := results[s.Item.ID]
		ir := ItemResult{ItemID: s.Item.ID, Amount: decimal.Zero, OK: r != nil && r.Success}
		if !ir.OK {
			failed = true
			if r != nil && r.Error != nil {
				ir.Error = r.Error.Error()
			} else {
				ir.Error = "no result collected"
			}
			if c.metrics != nil {
				c.metrics.CancelFailures.Inc()
			}
		} else if c.metrics != nil {
			c.metrics.ItemsCancelled.Inc()
		}
		out = append(out, ir)
	}
	return out, failed
}

// runSubmitPhase submits every included item. A failed submit is recorded
// and the run continues; submissions are independent billable actions.
func (c *Coordinator) runSubmitPhase(ctx context.Context, group *request.Group, included []request.ItemSelection) []ItemResult {
	if len(included) == 0 {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "submit_phase",
		trace.WithAttributes(attribute.Int("items", len(included))))
	defer span.End()

	amounts := make(map[string]decimal.Decimal, len(included))
	for _, s := range included {
		amounts[s.Item.ID] = s.Amount
	}

	results := c.fanOut(ctx, included, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()

		req := SubmitRequest{
			ItemID:    task.ID,
			SubjectID: group.SubjectID,
			BatchID:   group.BatchID,
			Amount:    amounts[task.ID],
		}
		if err := c.svc.SubmitItem(callCtx, req); err != nil {
			return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
		}
		return &workerpool.Result{TaskID: task.ID, Success: true}
	})

	out := make([]ItemResult, 0, len(included))
	for _, s := range included {
		r := results[s.Item.ID]
		ir := ItemResult{ItemID: s.Item.ID, Amount: s.Amount, OK: r != nil && r.Success}
		if !ir.OK {
			if r != nil && r.Error != nil {
				ir.Error = r.Error.Error()
			} else {
				ir.Error = "no result collected"
			}
			if c.metrics != nil {
				c.metrics.SubmitFailures.Inc()
			}
		} else if c.metrics != nil {
			c.metrics.ItemsSubmitted.Inc()
		}
		out = append(out, ir)
	}
	return out
}

// fanOut runs one boundary call per entry through a bounded worker pool and
// collects exactly one result per entry, keyed by item ID. In-phase
// completion order is unordered; callers re-emit in group item order.
func (c *Coordinator) fanOut(ctx context.Context, entries []request.ItemSelection, fn workerpool.WorkerFunc) map[string]*workerpool.Result {
	workers := c.config.Concurrency
	if len(entries) < workers {
		workers = len(entries)
	}

	pool, err := workerpool.New(workerpool.Config{
		Workers:   workers,
		QueueSize: len(entries),
	}, fn, c.logger)
	if err != nil {
		// Only reachable with a nil worker func; treat as a programming error.
		c.logger.Error("worker pool creation failed", zap.Error(err))
		return nil
	}

	pool.Start()
	defer pool.Stop()

	results := make(map[string]*workerpool.Result, len(entries))
	expected := 0
	for _, s := range entries {
		task := &workerpool.Task{ID: s.Item.ID, Context: ctx}
		if err := pool.Submit(task); err != nil {
			results[s.Item.ID] = &workerpool.Result{TaskID: s.Item.ID, Success: false, Error: err}
			continue
		}
		expected++
	}

	for i := 0; i < expected; i++ {
		r := <-pool.Results()
		results[r.TaskID] = r
	}
	return results
}
