package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oddslab/signaldesk/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain sentinel errors onto HTTP status codes. The
// fallback is a 500 with a generic body so internal detail never leaks.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, action string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrEmptyContent),
		errors.Is(err, domain.ErrEmptyCategory),
		errors.Is(err, domain.ErrNegativePrice),
		errors.Is(err, domain.ErrInvalidOutcome),
		errors.Is(err, domain.ErrInvalidSegment):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrCheckoutDeclined):
		writeError(w, http.StatusPaymentRequired, "checkout declined")
	case errors.Is(err, domain.ErrAlreadySettled),
		errors.Is(err, domain.ErrAlreadyUnlocked),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrNotPending),
		errors.Is(err, domain.ErrOwnSignal),
		errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrNotBuyer):
		writeError(w, http.StatusForbidden, "account is not a buyer")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrProvider):
		writeError(w, http.StatusBadGateway, "provider unavailable")
	default:
		logger.ErrorContext(r.Context(), "handler: "+action+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

// parseListOpts extracts pagination, search, and sort parameters from the
// query string. Defaults: limit=50 (max 500), offset=0, newest first.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:    limit,
		Offset:   offset,
		Search:   q.Get("search"),
		Category: q.Get("category"),
		Sort:     domain.SortNewest,
	}

	switch domain.SignalSort(q.Get("sort")) {
	case domain.SortOldest:
		opts.Sort = domain.SortOldest
	case domain.SortPriceAsc:
		opts.Sort = domain.SortPriceAsc
	case domain.SortPriceDesc:
		opts.Sort = domain.SortPriceDesc
	case domain.SortOutcome:
		opts.Sort = domain.SortOutcome
	}

	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Until = &t
		}
	}

	return opts
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
