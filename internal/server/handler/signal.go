package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/oddslab/signaldesk/internal/domain"
	"github.com/oddslab/signaldesk/internal/service"
)

// SignalService defines the methods that the signal handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type SignalService interface {
	PostSignal(ctx context.Context, creatorID, content, category, price string) (domain.Signal, error)
	PostBatch(ctx context.Context, creatorID string, inputs []service.BatchInput) ([]domain.Signal, error)
	GetSignal(ctx context.Context, id, viewerID string) (domain.Signal, error)
	ListLedger(ctx context.Context, viewerID string, opts domain.ListOpts) ([]domain.Signal, error)
	ListAvailable(ctx context.Context, buyerID string, opts domain.ListOpts) ([]domain.Signal, error)
	ListPending(ctx context.Context, creatorID string) ([]domain.Signal, error)
}

// SettlementService defines the settlement methods the handler depends on.
type SettlementService interface {
	Settle(ctx context.Context, signalID, callerID string, outcome domain.Outcome) (domain.SettlementResult, error)
	RetryCredits(ctx context.Context, signalID string) (domain.SettlementResult, error)
}

// IdentityService resolves the authenticated platform user when a request
// does not name one explicitly.
type IdentityService interface {
	Current(ctx context.Context) (domain.User, error)
}

// SignalHandler serves the signal ledger and settlement endpoints.
type SignalHandler struct {
	signals     SignalService
	settlements SettlementService
	identity    IdentityService
	logger      *slog.Logger
}

// NewSignalHandler creates a SignalHandler with the given services and logger.
func NewSignalHandler(signals SignalService, settlements SettlementService, identity IdentityService, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{
		signals:     signals,
		settlements: settlements,
		identity:    identity,
		logger:      logger,
	}
}

// signalView is the JSON shape of a signal. Price is rendered as a decimal
// string so clients never see float artifacts.
type signalView struct {
	ID        string     `json:"id"`
	CreatorID string     `json:"creator_id"`
	Content   string     `json:"content"`
	Category  string     `json:"category"`
	Price     string     `json:"price"`
	Hash      string     `json:"hash"`
	Outcome   string     `json:"outcome"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func toSignalView(sig domain.Signal) signalView {
	return signalView{
		ID:        sig.ID,
		CreatorID: sig.CreatorID,
		Content:   sig.Content,
		Category:  sig.Category,
		Price:     sig.Price.StringFixed(2),
		Hash:      sig.Hash,
		Outcome:   string(sig.Outcome),
		SettledAt: sig.SettledAt,
		CreatedAt: sig.CreatedAt,
	}
}

func toSignalViews(sigs []domain.Signal) []signalView {
	out := make([]signalView, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, toSignalView(sig))
	}
	return out
}

// viewerID resolves the acting user: an explicit query parameter wins,
// otherwise the provider session decides. An empty result means anonymous.
func (h *SignalHandler) viewerID(r *http.Request) string {
	if v := r.URL.Query().Get("viewer"); v != "" {
		return v
	}
	u, err := h.identity.Current(r.Context())
	if err != nil {
		return ""
	}
	return u.ID
}

// listSignalsResponse wraps signal list output.
type listSignalsResponse struct {
	Signals []signalView `json:"signals"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListLedger returns the public signal ledger with search and sort.
// GET /api/ledger?search=...&category=...&sort=newest&limit=50&offset=0
func (h *SignalHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	sigs, err := h.signals.ListLedger(r.Context(), h.viewerID(r), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list ledger", err)
		return
	}

	writeJSON(w, http.StatusOK, listSignalsResponse{
		Signals: toSignalViews(sigs),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// ListAvailable returns pending signals the buyer has not unlocked yet.
// GET /api/signals?viewer=u_buyer_1
func (h *SignalHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	buyerID := h.viewerID(r)
	if buyerID == "" {
		writeError(w, http.StatusBadRequest, "viewer required")
		return
	}

	sigs, err := h.signals.ListAvailable(r.Context(), buyerID, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list signals", err)
		return
	}

	writeJSON(w, http.StatusOK, listSignalsResponse{
		Signals: toSignalViews(sigs),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetSignal returns a single signal, redacted for the viewer.
// GET /api/signals/{id}
func (h *SignalHandler) GetSignal(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing signal id")
		return
	}

	sig, err := h.signals.GetSignal(r.Context(), id, h.viewerID(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "get signal", err)
		return
	}

	writeJSON(w, http.StatusOK, toSignalView(sig))
}

// ListPending returns the creator's unsettled signals.
// GET /api/signals/pending?viewer=u_creator_1
func (h *SignalHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	creatorID := h.viewerID(r)
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, "viewer required")
		return
	}

	sigs, err := h.signals.ListPending(r.Context(), creatorID)
	if err != nil {
		writeServiceError(w, r, h.logger, "list pending", err)
		return
	}

	writeJSON(w, http.StatusOK, listSignalsResponse{Signals: toSignalViews(sigs)})
}

// postSignalRequest is the JSON body for posting one signal.
type postSignalRequest struct {
	CreatorID string `json:"creator_id"`
	Content   string `json:"content"`
	Category  string `json:"category"`
	Price     string `json:"price"`
}

// PostSignal creates a new pending signal.
// POST /api/signals
func (h *SignalHandler) PostSignal(w http.ResponseWriter, r *http.Request) {
	var req postSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	creatorID := req.CreatorID
	if creatorID == "" {
		u, err := h.identity.Current(r.Context())
		if err != nil {
			writeServiceError(w, r, h.logger, "resolve creator", err)
			return
		}
		creatorID = u.ID
	}

	sig, err := h.signals.PostSignal(r.Context(), creatorID, req.Content, req.Category, req.Price)
	if err != nil {
		writeServiceError(w, r, h.logger, "post signal", err)
		return
	}

	writeJSON(w, http.StatusCreated, toSignalView(sig))
}

// postBatchRequest is the JSON body for posting several signals at once.
type postBatchRequest struct {
	CreatorID string `json:"creator_id"`
	Signals   []struct {
		Content  string `json:"content"`
		Category string `json:"category"`
		Price    string `json:"price"`
	} `json:"signals"`
}

// PostBatch creates several pending signals atomically.
// POST /api/signals/batch
func (h *SignalHandler) PostBatch(w http.ResponseWriter, r *http.Request) {
	var req postBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.CreatorID == "" {
		writeError(w, http.StatusBadRequest, "creator_id is required")
		return
	}

	inputs := make([]service.BatchInput, 0, len(req.Signals))
	for _, s := range req.Signals {
		inputs = append(inputs, service.BatchInput{
			Content:  s.Content,
			Category: s.Category,
			Price:    s.Price,
		})
	}

	sigs, err := h.signals.PostBatch(r.Context(), req.CreatorID, inputs)
	if err != nil {
		writeServiceError(w, r, h.logger, "post batch", err)
		return
	}

	writeJSON(w, http.StatusCreated, listSignalsResponse{Signals: toSignalViews(sigs)})
}

// settleRequest is the JSON body for settling a signal.
type settleRequest struct {
	CallerID string `json:"caller_id"`
	Outcome  string `json:"outcome"`
}

// settlementView is the JSON shape of a settlement result.
type settlementView struct {
	SignalID      string `json:"signal_id"`
	Outcome       string `json:"outcome"`
	Credited      int    `json:"credited"`
	TotalCredited int    `json:"total_credited"`
	Pending       int    `json:"pending"`
	Complete      bool   `json:"complete"`
}

func toSettlementView(res domain.SettlementResult) settlementView {
	return settlementView{
		SignalID:      res.SignalID,
		Outcome:       string(res.Outcome),
		Credited:      res.Credited,
		TotalCredited: res.TotalCredited,
		Pending:       res.Pending,
		Complete:      res.Complete(),
	}
}

// Settle records a WIN or LOSS outcome for a pending signal.
// POST /api/signals/{id}/settle
func (h *SignalHandler) Settle(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing signal id")
		return
	}

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	callerID := req.CallerID
	if callerID == "" {
		u, err := h.identity.Current(r.Context())
		if err != nil {
			writeServiceError(w, r, h.logger, "resolve caller", err)
			return
		}
		callerID = u.ID
	}

	res, err := h.settlements.Settle(r.Context(), id, callerID, domain.Outcome(req.Outcome))
	if err != nil && res.Pending == 0 {
		writeServiceError(w, r, h.logger, "settle signal", err)
		return
	}
	if err != nil {
		// The outcome is recorded but some credits did not land. Report
		// partial success so the operator can retry.
		h.logger.WarnContext(r.Context(), "handler: settlement credits incomplete",
			slog.String("signal_id", id),
			slog.Int("pending", res.Pending),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusAccepted, toSettlementView(res))
		return
	}

	writeJSON(w, http.StatusOK, toSettlementView(res))
}

// RetryCredits re-drives the credit fan-out for a LOSS-settled signal.
// POST /api/signals/{id}/settle/retry
func (h *SignalHandler) RetryCredits(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing signal id")
		return
	}

	res, err := h.settlements.RetryCredits(r.Context(), id)
	if err != nil && res.Pending == 0 {
		writeServiceError(w, r, h.logger, "retry credits", err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusAccepted, toSettlementView(res))
		return
	}

	writeJSON(w, http.StatusOK, toSettlementView(res))
}
