// Package handlers provides HTTP handlers for the settlement API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/careops/go-settle/internal/api/middleware"
	"github.com/careops/go-settle/internal/domain/request"
	"github.com/careops/go-settle/internal/infrastructure/postgres"
	"github.com/careops/go-settle/internal/infrastructure/redpanda"
	"github.com/careops/go-settle/internal/observability/metrics"
	"github.com/careops/go-settle/internal/settlement"
	"github.com/careops/go-settle/pkg/idempotency"
)

// SettlementHandler handles group listing and settlement endpoints
type SettlementHandler struct {
	source     settlement.RequestSource
	coord      *settlement.Coordinator
	normalizer *request.Normalizer
	grouper    request.Grouper
	inbox      *idempotency.Inbox
	pool       *pgxpool.Pool
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewSettlementHandler creates a new handler. inbox and pool may be nil, in
// which case settles run without replay protection and outcomes are not
// persisted to the outbox.
func NewSettlementHandler(
	source settlement.RequestSource,
	coord *settlement.Coordinator,
	normalizer *request.Normalizer,
	grouper request.Grouper,
	inbox *idempotency.Inbox,
	pool *pgxpool.Pool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SettlementHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettlementHandler{
		source:     source,
		coord:      coord,
		normalizer: normalizer,
		grouper:    grouper,
		inbox:      inbox,
		pool:       pool,
		metrics:    m,
		logger:     logger,
	}
}

// Routes returns the handler routes
func (h *SettlementHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/groups", h.ListGroups)
	r.Post("/groups/{groupKey}/settle", h.Settle)
	return r
}

// ItemView is the wire representation of a group item
type ItemView struct {
	ID          string `json:"id"`
	CategoryID  string `json:"categoryId,omitempty"`
	Description string `json:"description"`
	Measure     string `json:"measure,omitempty"`
	Count       string `json:"count,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	Price       string `json:"price"`
	Status      string `json:"status"`
}

// GroupView is the wire representation of a request group
type GroupView struct {
	Key         string     `json:"key"`
	SubjectID   string     `json:"subjectId"`
	SubjectName string     `json:"subjectName"`
	Clinician   string     `json:"clinician,omitempty"`
	Department  string     `json:"department,omitempty"`
	BatchID     string     `json:"batchId,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	Total       string     `json:"total"`
	Items       []ItemView `json:"items"`
}

// ListGroupsResponse is the response for GET /groups
type ListGroupsResponse struct {
	Groups  []GroupView `json:"groups"`
	Skipped int         `json:"skipped"`
}

// ListGroups handles GET /groups?term=&status=
func (h *SettlementHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("settlement-handler")
	ctx, span := tracer.Start(ctx, "list_groups")
	defer span.End()

	term := r.URL.Query().Get("term")
	statusTab := r.URL.Query().Get("status")

	records, err := h.source.FetchActiveRequests(ctx)
	if err != nil {
		h.logger.Error("fetch failed",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		h.jsonError(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}

	items, report := h.normalizer.Normalize(records)
	groups := request.Filter(h.grouper.Group(items), term, statusTab)

	if h.metrics != nil {
		h.metrics.RecordsSkipped.Add(float64(report.Skipped))
		h.metrics.GroupsListed.Add(float64(len(groups)))
	}
	span.SetAttributes(
		attribute.Int("groups", len(groups)),
		attribute.Int("skipped", report.Skipped),
	)

	resp := ListGroupsResponse{
		Groups:  make([]GroupView, 0, len(groups)),
		Skipped: report.Skipped,
	}
	for _, g := range groups {
		resp.Groups = append(resp.Groups, groupToView(g))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func groupToView(g *request.Group) GroupView {
	view := GroupView{
		Key:         g.Key.String(),
		SubjectID:   g.SubjectID,
		SubjectName: g.SubjectName,
		Clinician:   g.Clinician,
		Department:  g.Department,
		BatchID:     g.BatchID,
		Status:      string(g.Status()),
		CreatedAt:   g.CreatedAt,
		Items:       make([]ItemView, 0, len(g.Items)),
	}

	total := decimal.Zero
	for _, it := range g.Items {
		total = total.Add(it.Price)
		view.Items = append(view.Items, ItemView{
			ID:          it.ID,
			CategoryID:  it.CategoryID,
			Description: it.Description,
			Measure:     it.Measure,
			Count:       it.Count,
			Duration:    it.Duration,
			Instruction: it.Instruction,
			Price:       it.Price.String(),
			Status:      string(it.Status),
		})
	}
	view.Total = total.String()
	return view
}

// SettleItem adjusts one item of the selection before settling
type SettleItem struct {
	ID       string  `json:"id"`
	Included bool    `json:"included"`
	Amount   *string `json:"amount,omitempty"`
}

// SettleRequest is the request body for POST /groups/{groupKey}/settle.
// Items absent from the body keep their defaults: included, at list price.
type SettleRequest struct {
	Items  []SettleItem `json:"items"`
	Panels []string     `json:"panels,omitempty"`
}

// Settle handles POST /groups/{groupKey}/settle
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("settlement-handler")
	ctx, span := tracer.Start(ctx, "settle_group")
	defer span.End()

	groupKey := chi.URLParam(r, "groupKey")
	span.SetAttributes(attribute.String("group_key", groupKey))

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	group, err := h.findGroup(ctx, groupKey)
	if err != nil {
		h.jsonError(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	if group == nil {
		h.jsonError(w, "group not found", http.StatusNotFound)
		return
	}

	sel := request.NewSelection(group)
	if err := applySelection(sel, &req); err != nil {
		h.jsonError(w, err.Error(), statusForError(err))
		return
	}

	payload, _ := json.Marshal(&req)
	run := func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		outcome, err := h.coord.Settle(ctx, sel)
		if err != nil {
			return nil, err
		}
		if err := h.persistOutcome(ctx, outcome); err != nil {
			// The phases already ran; losing the outbox write must not
			// turn a settled group into an error response.
			h.logger.Error("failed to persist outcome",
				zap.String("outcome_id", outcome.OutcomeID),
				zap.Error(err))
		}
		return json.Marshal(outcome)
	}

	var result json.RawMessage
	if h.inbox != nil {
		key := idempotency.GenerateKey(groupKey, payload)
		pr, err := h.inbox.Process(ctx, key, "settle_group", payload, run)
		if err != nil {
			h.jsonError(w, err.Error(), statusForError(err))
			return
		}
		result = pr.Result
		span.SetAttributes(attribute.Bool("replayed", !pr.IsNew))
	} else {
		result, err = run(ctx, payload)
		if err != nil {
			h.jsonError(w, err.Error(), statusForError(err))
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

// findGroup re-fetches and regroups current upstream state, then locates the
// requested group. Returns (nil, nil) when the key no longer exists.
func (h *SettlementHandler) findGroup(ctx context.Context, key string) (*request.Group, error) {
	records, err := h.source.FetchActiveRequests(ctx)
	if err != nil {
		return nil, err
	}
	items, _ := h.normalizer.Normalize(records)
	for _, g := range h.grouper.Group(items) {
		if g.Key.String() == key {
			return g, nil
		}
	}
	return nil, nil
}

func applySelection(sel *request.Selection, req *SettleRequest) error {
	for _, panel := range req.Panels {
		sel.LockPanel(panel)
	}
	for _, it := range req.Items {
		if !it.Included {
			if err := sel.Toggle(it.ID, false); err != nil {
				return err
			}
			continue
		}
		if it.Amount == nil {
			continue
		}
		amount, err := decimal.NewFromString(*it.Amount)
		if err != nil {
			return errors.New("invalid amount for item " + it.ID)
		}
		if err := sel.SetAmount(it.ID, amount); err != nil {
			return err
		}
	}
	return nil
}

// persistOutcome writes the outcome to the transactional outbox. Aborted
// settlements additionally produce an audit trail entry.
func (h *SettlementHandler) persistOutcome(ctx context.Context, outcome *settlement.Outcome) error {
	if h.pool == nil {
		return nil
	}

	payload, err := json.Marshal(outcome)
	if err != nil {
		return err
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	eventType := "settlement.completed"
	if outcome.Aborted {
		eventType = "settlement.aborted"
	}

	if err := postgres.WriteEntry(ctx, tx, &postgres.OutboxEntry{
		OutcomeID:    outcome.OutcomeID,
		GroupKey:     outcome.GroupKey,
		EventType:    eventType,
		Payload:      payload,
		Topic:        redpanda.TopicSettlementOutcomes,
		PartitionKey: outcome.SubjectID,
	}); err != nil {
		return err
	}

	if outcome.Aborted {
		if err := postgres.WriteEntry(ctx, tx, &postgres.OutboxEntry{
			OutcomeID:    outcome.OutcomeID,
			GroupKey:     outcome.GroupKey,
			EventType:    "settlement.aborted",
			Payload:      payload,
			Topic:        redpanda.TopicAuditTrail,
			PartitionKey: outcome.SubjectID,
		}); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, request.ErrNothingSelected),
		errors.Is(err, request.ErrMissingAmount),
		errors.Is(err, request.ErrItemNotIncluded),
		errors.Is(err, request.ErrConstraintViolation),
		errors.Is(err, request.ErrUnknownItem):
		return http.StatusUnprocessableEntity
	case errors.Is(err, request.ErrInvalidTransition),
		errors.Is(err, request.ErrSettlementInFlight),
		errors.Is(err, request.ErrStateLocked),
		errors.Is(err, idempotency.ErrMessageInProgress):
		return http.StatusConflict
	case errors.Is(err, idempotency.ErrDuplicateMessage):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (h *SettlementHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *SettlementHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
