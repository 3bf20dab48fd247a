package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/pdfqa/internal/corpus"
	"github.com/kalambet/pdfqa/internal/job"
	"github.com/kalambet/pdfqa/internal/openai"
	"github.com/kalambet/pdfqa/internal/registry"
	"github.com/kalambet/pdfqa/internal/syncer"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// classify maps a domain error to an HTTP status and error type.
func classify(err error) (int, string) {
	var te *openai.TransportError
	var ae *openai.APIError
	switch {
	case errors.Is(err, corpus.ErrDirectoryNotFound), errors.Is(err, registry.ErrEmptyCorpus):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, job.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout_error"
	case errors.Is(err, job.ErrJobFailed), errors.Is(err, syncer.ErrUploadFailed),
		errors.As(err, &te), errors.As(err, &ae):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	code, typ := classify(err)
	httpError(w, code, typ, "%v", err)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
