package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/pdfqa/internal/metrics"
	"github.com/kalambet/pdfqa/internal/query"
	"github.com/kalambet/pdfqa/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Service is the domain surface exposed over HTTP and MCP.
type Service interface {
	Answer(ctx context.Context, req query.Request) (query.Answer, error)
	Sync(ctx context.Context, req query.SyncRequest) (query.SyncResult, error)
}

// IndexReader reports the cached vector store ID.
type IndexReader interface {
	Cached() string
}

// History is the read side of the interaction store.
type History interface {
	GetRecentInteractions(limit int) ([]storage.Interaction, error)
	GetInteraction(id string) (storage.Interaction, error)
}

type Deps struct {
	Service Service
	Index   IndexReader
	History History // optional; history routes return 404 when nil
	Metrics *metrics.Metrics
	Token   string
}

// Serialized wraps a Service so that at most one ask or sync runs at a
// time. The index cache has a single writer.
type Serialized struct {
	mu   sync.Mutex
	next Service
}

func NewSerialized(next Service) *Serialized {
	return &Serialized{next: next}
}

func (s *Serialized) Answer(ctx context.Context, req query.Request) (query.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Answer(ctx, req)
}

func (s *Serialized) Sync(ctx context.Context, req query.SyncRequest) (query.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Sync(ctx, req)
}

type AskRequest struct {
	Prompt    string `json:"prompt"`
	Directory string `json:"directory,omitempty"`
	Reuse     string `json:"reuse,omitempty"`
}

type AskResponse struct {
	Answer        string `json:"answer"`
	NoAnswer      bool   `json:"no_answer,omitempty"`
	VectorStoreID string `json:"vector_store_id"`
	Created       bool   `json:"created"`
	Attached      int    `json:"attached"`
	RunID         string `json:"run_id,omitempty"`
}

type SyncRequest struct {
	Directory string `json:"directory,omitempty"`
	Reuse     string `json:"reuse,omitempty"`
}

type SyncResponse struct {
	VectorStoreID string `json:"vector_store_id"`
	Created       bool   `json:"created"`
	Attached      int    `json:"attached"`
	Documents     int    `json:"documents"`
}

// NewHandler returns the HTTP API. /health and /metrics are public; every
// other route requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/ask", handleAsk(deps))
		r.Post("/sync", handleSync(deps))
		r.Get("/index", handleIndex(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}

		ans, err := deps.Service.Answer(r.Context(), query.Request{
			Prompt:    req.Prompt,
			Directory: req.Directory,
			Reuse:     req.Reuse,
		})
		if err != nil && !errors.Is(err, query.ErrNoAnswer) {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, AskResponse{
			Answer:        ans.Text,
			NoAnswer:      errors.Is(err, query.ErrNoAnswer),
			VectorStoreID: ans.IndexID,
			Created:       ans.Created,
			Attached:      ans.Attached,
			RunID:         ans.RunID,
		})
	}
}

func handleSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SyncRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := deps.Service.Sync(r.Context(), query.SyncRequest{
			Directory: req.Directory,
			Reuse:     req.Reuse,
			Source:    "api",
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, SyncResponse{
			VectorStoreID: res.IndexID,
			Created:       res.Created,
			Attached:      res.Attached,
			Documents:     res.Documents,
		})
	}
}

func handleIndex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := deps.Index.Cached()
		if id == "" {
			httpError(w, http.StatusNotFound, "not_found", "no cached vector store")
			return
		}
		writeJSON(w, map[string]string{"vector_store_id": id})
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found", "history is disabled")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		interactions, err := deps.History.GetRecentInteractions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		writeJSON(w, interactions)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found", "history is disabled")
			return
		}
		id := chi.URLParam(r, "id")

		interaction, err := deps.History.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}
		writeJSON(w, interaction)
	}
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
