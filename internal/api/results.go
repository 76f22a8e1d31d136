package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/redactor/internal/results"
)

func handleListResults(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := r.URL.Query().Get("month")
		if month != "" && !validMonth(month) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "month must be YYYY-MM")
			return
		}

		store := deps.Runner.Results()
		var recs []results.Record
		switch r.URL.Query().Get("collection") {
		case "", "active":
			recs = store.ListActive(month)
		case "rejected":
			recs = store.ListRejected(month)
		case "combined", "all":
			recs = store.ListCombined(month)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "collection must be active, rejected or combined")
			return
		}

		results.SortNewest(recs)
		if limit := parseIntParam(r, "limit", 0, 0); limit > 0 && len(recs) > limit {
			recs = recs[:limit]
		}
		if recs == nil {
			recs = []results.Record{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func handleGetResult(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := deps.Runner.Results().Get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "result not found")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleDeleteResult(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		found, err := deps.Runner.Delete(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete result: %v", err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found", "result not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

type feedbackRequest struct {
	Approved *bool  `json:"approved"`
	Comment  string `json:"comment"`
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Approved == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "approved is required")
			return
		}

		id := chi.URLParam(r, "id")
		found, err := deps.Runner.Feedback(id, *req.Approved, req.Comment)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record feedback: %v", err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found", "result not found")
			return
		}

		status := results.StatusApproved
		if !*req.Approved {
			status = results.StatusRejected
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": status.String()})
	}
}

func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))

		body, contentType, err := deps.Runner.Results().Export(id, format)
		switch {
		case errors.Is(err, results.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "result not found")
			return
		case errors.Is(err, results.ErrUnsupportedFormat):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		rec, _ := deps.Runner.Results().Get(id)
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, results.ExportFilename(rec, format)))
		w.Write(body)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := r.URL.Query().Get("month")
		if month != "" && !validMonth(month) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "month must be YYYY-MM")
			return
		}
		writeJSON(w, http.StatusOK, deps.Runner.Results().Stats(month))
	}
}

func handleMonths(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		months := deps.Runner.Results().Months()
		if months == nil {
			months = []string{}
		}
		writeJSON(w, http.StatusOK, months)
	}
}
