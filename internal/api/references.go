package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/redactor/internal/reference"
)

const maxReferenceBodySize = 10 << 20 // 10MB

// AddReferenceRequest uploads a reference file. Binary files such as PDFs
// use ContentBase64.
type AddReferenceRequest struct {
	Name          string `json:"name"`
	Content       string `json:"content"`
	ContentBase64 string `json:"content_base64"`
}

// referenceSummary is a list entry; the extracted text is trimmed to a preview.
type referenceSummary struct {
	Name     string         `json:"name"`
	Kind     reference.Kind `json:"kind"`
	Size     int64          `json:"size"`
	Modified string         `json:"modified"`
	Preview  string         `json:"preview"`
}

func handleListReferences(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.References == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "reference store not configured")
			return
		}
		texts, err := deps.References.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list references: %v", err)
			return
		}
		out := make([]referenceSummary, len(texts))
		for i, t := range texts {
			out[i] = referenceSummary{
				Name:     t.Name,
				Kind:     t.Kind,
				Size:     t.Size,
				Modified: t.Modified.UTC().Format("2006-01-02T15:04:05Z"),
				Preview:  preview(t.Content, 200),
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleAddReference(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.References == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "reference store not configured")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxReferenceBodySize)
		defer r.Body.Close()

		var req AddReferenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		var content []byte
		switch {
		case req.ContentBase64 != "":
			decoded, err := base64.StdEncoding.DecodeString(req.ContentBase64)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			content = decoded
		case req.Content != "":
			content = []byte(req.Content)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of content or content_base64 is required")
			return
		}

		name, err := deps.References.Save(req.Name, content)
		if errors.Is(err, reference.ErrInvalidName) || errors.Is(err, reference.ErrUnsupportedKind) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save reference: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"name": name, "status": "saved"})
	}
}

func handleDeleteReference(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.References == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "reference store not configured")
			return
		}
		found, err := deps.References.Delete(chi.URLParam(r, "name"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete reference: %v", err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found", "reference not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// preview cuts s to at most n runes, adding "..." when cut.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
