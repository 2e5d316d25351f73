package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/oddslab/signaldesk/internal/domain"
)

// PurchaseService defines the methods that the purchase handler requires from
// the service layer.
type PurchaseService interface {
	Purchase(ctx context.Context, signalID, buyerID string) (domain.Purchase, error)
	History(ctx context.Context, buyerID string, opts domain.ListOpts) ([]domain.Purchase, error)
}

// PurchaseHandler serves the unlock endpoints.
type PurchaseHandler struct {
	purchases PurchaseService
	identity  IdentityService
	logger    *slog.Logger
}

// NewPurchaseHandler creates a PurchaseHandler with the given service and
// logger.
func NewPurchaseHandler(purchases PurchaseService, identity IdentityService, logger *slog.Logger) *PurchaseHandler {
	return &PurchaseHandler{
		purchases: purchases,
		identity:  identity,
		logger:    logger,
	}
}

// purchaseView is the JSON shape of an unlock record.
type purchaseView struct {
	ID         string    `json:"id"`
	SignalID   string    `json:"signal_id"`
	BuyerID    string    `json:"buyer_id"`
	PricePaid  string    `json:"price_paid"`
	UsedCredit bool      `json:"used_credit"`
	CreatedAt  time.Time `json:"created_at"`
}

func toPurchaseView(p domain.Purchase) purchaseView {
	return purchaseView{
		ID:         p.ID,
		SignalID:   p.SignalID,
		BuyerID:    p.BuyerID,
		PricePaid:  p.PricePaid.StringFixed(2),
		UsedCredit: p.UsedCredit,
		CreatedAt:  p.CreatedAt,
	}
}

// createPurchaseRequest is the JSON body for unlocking a signal.
type createPurchaseRequest struct {
	SignalID string `json:"signal_id"`
	BuyerID  string `json:"buyer_id"`
}

// CreatePurchase unlocks a signal for a buyer, via credit or checkout.
// POST /api/purchases
func (h *PurchaseHandler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req createPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SignalID == "" {
		writeError(w, http.StatusBadRequest, "signal_id is required")
		return
	}

	buyerID := req.BuyerID
	if buyerID == "" {
		u, err := h.identity.Current(r.Context())
		if err != nil {
			writeServiceError(w, r, h.logger, "resolve buyer", err)
			return
		}
		buyerID = u.ID
	}

	p, err := h.purchases.Purchase(r.Context(), req.SignalID, buyerID)
	if err != nil {
		writeServiceError(w, r, h.logger, "create purchase", err)
		return
	}

	writeJSON(w, http.StatusCreated, toPurchaseView(p))
}

// listPurchasesResponse wraps the purchase history output.
type listPurchasesResponse struct {
	Purchases []purchaseView `json:"purchases"`
}

// ListPurchases returns the buyer's purchase history, newest first.
// GET /api/purchases?viewer=u_buyer_1
func (h *PurchaseHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	buyerID := r.URL.Query().Get("viewer")
	if buyerID == "" {
		u, err := h.identity.Current(r.Context())
		if err != nil {
			writeServiceError(w, r, h.logger, "resolve buyer", err)
			return
		}
		buyerID = u.ID
	}

	purchases, err := h.purchases.History(r.Context(), buyerID, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list purchases", err)
		return
	}

	views := make([]purchaseView, 0, len(purchases))
	for _, p := range purchases {
		views = append(views, toPurchaseView(p))
	}
	writeJSON(w, http.StatusOK, listPurchasesResponse{Purchases: views})
}
