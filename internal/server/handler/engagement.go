package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/oddslab/signaldesk/internal/domain"
	"github.com/oddslab/signaldesk/internal/service"
)

// EngagementService defines the segment methods the handler depends on.
type EngagementService interface {
	Segments(ctx context.Context) ([]service.SegmentSummary, error)
	Members(ctx context.Context, seg domain.BuyerSegment) ([]string, error)
	Notify(ctx context.Context, seg domain.BuyerSegment, message string) error
}

// EngagementHandler serves buyer-segment and notification endpoints.
type EngagementHandler struct {
	engagement EngagementService
	logger     *slog.Logger
}

// NewEngagementHandler creates an EngagementHandler with the given service
// and logger.
func NewEngagementHandler(engagement EngagementService, logger *slog.Logger) *EngagementHandler {
	return &EngagementHandler{
		engagement: engagement,
		logger:     logger,
	}
}

// segmentView is the JSON shape of one segment summary.
type segmentView struct {
	Segment string `json:"segment"`
	Members int    `json:"members"`
}

// listSegmentsResponse wraps the segment list output.
type listSegmentsResponse struct {
	Segments []segmentView `json:"segments"`
}

// ListSegments returns every buyer segment with its member count.
// GET /api/segments
func (h *EngagementHandler) ListSegments(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.engagement.Segments(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list segments", err)
		return
	}

	views := make([]segmentView, 0, len(summaries))
	for _, s := range summaries {
		views = append(views, segmentView{Segment: string(s.Segment), Members: s.Members})
	}
	writeJSON(w, http.StatusOK, listSegmentsResponse{Segments: views})
}

// GetSegmentMembers returns the buyer IDs currently in one segment.
// GET /api/segments/{name}/members
func (h *EngagementHandler) GetSegmentMembers(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing segment name")
		return
	}

	members, err := h.engagement.Members(r.Context(), domain.BuyerSegment(name))
	if err != nil {
		writeServiceError(w, r, h.logger, "get segment members", err)
		return
	}
	if members == nil {
		members = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"segment": name,
		"members": members,
	})
}

// notifyRequest is the JSON body for a segment notification.
type notifyRequest struct {
	Segment string `json:"segment"`
	Message string `json:"message"`
}

// Notify pushes a message to every buyer in a segment.
// POST /api/notify
func (h *EngagementHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.engagement.Notify(r.Context(), domain.BuyerSegment(req.Segment), req.Message); err != nil {
		writeServiceError(w, r, h.logger, "notify segment", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "sent",
		"segment": req.Segment,
	})
}
