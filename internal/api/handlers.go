package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/hibi/internal/apperr"
	"github.com/starford/hibi/internal/diaryservice"
	"github.com/starford/hibi/internal/index"
)

// Handler holds API route handlers.
type Handler struct {
	svc *diaryservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *diaryservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListEntries handles GET /api/entries.
//
//	@Summary		List diary entries, newest first
//	@Tags			entries
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	EntryListResponse
//	@Security		BearerAuth
//	@Router			/entries [get]
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListEntries(r.Context(), limit, offset)
	if err != nil {
		slog.Error("list entries failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, EntryListResponse{Entries: items, Total: total})
}

// GetEntry handles GET /api/entries/{year}/{month}/{day}.
//
//	@Summary		Get the entry for one day
//	@Tags			entries
//	@Produce		json
//	@Param			year	path		string	true	"Year (YYYY)"
//	@Param			month	path		string	true	"Month (MM)"
//	@Param			day		path		string	true	"Day (DD)"
//	@Success		200		{object}	EntryDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entries/{year}/{month}/{day} [get]
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "year") + "-" + chi.URLParam(r, "month") + "-" + chi.URLParam(r, "day")
	entry, err := h.svc.GetEntry(r.Context(), date)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrInvalidRecord):
			writeJSON(w, http.StatusBadRequest, errorBody("invalid date"))
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		default:
			slog.Error("get entry failed", slog.String("date", date), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across entries
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Runs handles GET /api/runs.
//
//	@Summary		Recent synchronization runs
//	@Tags			sync
//	@Produce		json
//	@Param			limit	query		int		false	"Max runs"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.Runs(r.Context(), limit)
	if err != nil {
		slog.Error("list runs failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

// Status handles GET /api/status.
//
//	@Summary		Synchronization gate state and last run
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		slog.Error("status failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, st)
}
