package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/redactor/internal/llm"
	"github.com/kalambet/redactor/internal/ollama"
	"github.com/kalambet/redactor/internal/pipeline"
	"github.com/kalambet/redactor/internal/reference"
	"github.com/kalambet/redactor/internal/results"
	"github.com/kalambet/redactor/internal/storage"
	"github.com/kalambet/redactor/internal/textstats"
)

const maxRequestBodySize = 1 << 20 // 1MB

// UsageReader reads the usage ledger. *storage.Store satisfies it.
type UsageReader interface {
	UsageByMonth(month string) ([]storage.UsageSummary, error)
	ListUsage(limit, offset int) ([]storage.UsageEntry, error)
	GetUsage(id string) (storage.UsageEntry, error)
}

// CompanyContext supplies the formatted company block. *company.Manager
// satisfies it.
type CompanyContext interface {
	Context() string
}

// Deps wires the HTTP API. Runner is required; the rest are optional and
// their routes answer 503 when missing.
type Deps struct {
	Runner     *pipeline.Runner
	References *reference.Store
	Usage      UsageReader
	Company    CompanyContext
	// Token enables bearer auth when non-empty.
	Token string
	// Keys are fallback API keys by provider, used to report availability
	// and to list OpenRouter models.
	Keys map[string]string
	// Ollama, when set, lets GET /providers?live=1 list installed models.
	Ollama *ollama.Client
	// OpenRouterBaseURL overrides the OpenRouter endpoint for live listing.
	OpenRouterBaseURL string
	Logger            *slog.Logger
}

// NewHandler returns the redactor REST API.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(deps.Logger))

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token, deps.Logger))

		r.Get("/providers", handleProviders(deps))
		r.Post("/actions/{action}", handleAction(deps))
		r.Post("/analyze", handleAnalyze)

		r.Get("/results", handleListResults(deps))
		r.Get("/results/{id}", handleGetResult(deps))
		r.Delete("/results/{id}", handleDeleteResult(deps))
		r.Post("/results/{id}/feedback", handleFeedback(deps))
		r.Get("/results/{id}/export", handleExport(deps))
		r.Get("/stats", handleStats(deps))
		r.Get("/months", handleMonths(deps))

		r.Get("/references", handleListReferences(deps))
		r.Post("/references", handleAddReference(deps))
		r.Delete("/references/{name}", handleDeleteReference(deps))

		r.Get("/usage", handleUsage(deps))
		r.Get("/usage/entries", handleListUsageEntries(deps))
		r.Get("/usage/entries/{id}", handleGetUsageEntry(deps))
		r.Get("/company", handleCompany(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// ProviderInfo is one entry of GET /providers.
type ProviderInfo struct {
	Name         string   `json:"name"`
	DefaultModel string   `json:"default_model"`
	Models       []string `json:"models"`
	KeyEnv       string   `json:"key_env,omitempty"`
	HasKey       bool     `json:"has_key"`
	Error        string   `json:"error,omitempty"`
}

func handleProviders(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		live := parseBoolParam(r, "live")
		out := make([]ProviderInfo, 0, len(llm.Providers()))
		for _, name := range llm.Providers() {
			info := ProviderInfo{
				Name:         name,
				DefaultModel: llm.DefaultModel(name),
				Models:       llm.Models(name),
				KeyEnv:       llm.KeyEnv(name),
				HasKey:       llm.HasKey(name, deps.Keys[name]),
			}
			if live {
				models, err := liveModels(r.Context(), deps, name)
				if err != nil {
					info.Error = err.Error()
				} else if models != nil {
					info.Models = models
				}
			}
			if info.Models == nil {
				info.Models = []string{}
			}
			out = append(out, info)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// liveModels asks the backend for its models. It returns nil, nil for
// providers with a fixed list.
func liveModels(ctx context.Context, deps Deps, name string) ([]string, error) {
	switch name {
	case llm.Ollama:
		if deps.Ollama == nil {
			return nil, nil
		}
		return deps.Ollama.ListModels(ctx)
	case llm.OpenRouter:
		key := os.Getenv(llm.KeyEnv(name))
		if key == "" {
			key = deps.Keys[name]
		}
		if key == "" {
			return nil, nil
		}
		return llm.RemoteModels(ctx, key, deps.OpenRouterBaseURL)
	}
	return nil, nil
}

type actionRequest struct {
	Input        string   `json:"input"`
	MaxWords     int      `json:"max_words"`
	Instructions string   `json:"instructions"`
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	Temperature  *float64 `json:"temperature"`
}

// ActionResponse is the body of POST /actions/{action}.
type ActionResponse struct {
	ID         string  `json:"id,omitempty"`
	Action     string  `json:"action"`
	Text       string  `json:"text"`
	TokensUsed int     `json:"tokens_used"`
	Cost       float64 `json:"cost"`
	Words      int     `json:"words"`
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	Failed     bool    `json:"failed"`
}

func handleAction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req actionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		out, err := deps.Runner.Run(r.Context(), pipeline.Request{
			Action:       chi.URLParam(r, "action"),
			Input:        req.Input,
			MaxWords:     req.MaxWords,
			Instructions: req.Instructions,
			Provider:     req.Provider,
			Model:        req.Model,
			Temperature:  req.Temperature,
		})
		var cfgErr *llm.ConfigError
		switch {
		case errors.Is(err, pipeline.ErrInvalidRequest):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case errors.As(err, &cfgErr):
			httpError(w, http.StatusBadRequest, "config_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		writeJSON(w, http.StatusOK, ActionResponse{
			ID:         out.ID,
			Action:     string(out.Action),
			Text:       out.Result.Text,
			TokensUsed: out.Result.TokensUsed,
			Cost:       out.Result.Cost,
			Words:      out.Words,
			Provider:   out.Provider,
			Model:      out.Model,
			Failed:     out.Result.Failed(),
		})
	}
}

// AnalyzeResponse is the body of POST /analyze.
type AnalyzeResponse struct {
	textstats.Stats
	Formatted string `json:"formatted"`
}

func handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Stats:     textstats.Analyze(req.Text),
		Formatted: textstats.Format(req.Text),
	})
}

func handleCompany(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Company == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "company profile not configured")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"context": deps.Company.Context()})
	}
}

func handleUsage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Usage == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "usage ledger not configured")
			return
		}
		month := r.URL.Query().Get("month")
		if month == "" {
			month = deps.Runner.Results().CurrentMonth()
		}
		if month == "all" {
			month = ""
		} else if !validMonth(month) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "month must be YYYY-MM")
			return
		}
		summaries, err := deps.Usage.UsageByMonth(month)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read usage: %v", err)
			return
		}
		if summaries == nil {
			summaries = []storage.UsageSummary{}
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

func handleListUsageEntries(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Usage == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "usage ledger not configured")
			return
		}
		limit := parseIntParam(r, "limit", 50, 500)
		offset := parseIntParam(r, "offset", 0, 0)
		entries, err := deps.Usage.ListUsage(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read usage: %v", err)
			return
		}
		if entries == nil {
			entries = []storage.UsageEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleGetUsageEntry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Usage == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "usage ledger not configured")
			return
		}
		id := chi.URLParam(r, "id")
		e, err := deps.Usage.GetUsage(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "usage entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read usage: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func validMonth(s string) bool {
	return results.ValidMonth(s)
}

func parseBoolParam(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
