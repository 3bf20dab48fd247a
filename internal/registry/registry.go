// Package registry decides which remote vector store a run uses: an
// explicitly requested one, the cached one, or a freshly created one.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/pdfqa/internal/corpus"
	"github.com/kalambet/pdfqa/internal/openai"
)

// ErrEmptyCorpus is returned when a new store would have to be created
// but there is nothing to put in it.
var ErrEmptyCorpus = errors.New("no documents to index")

// NamePrefix starts the name of every store created by pdfqa.
const NamePrefix = "pdfqa"

// Stores is the subset of the OpenAI client the registry needs.
type Stores interface {
	GetVectorStore(ctx context.Context, id string) (openai.VectorStore, error)
	CreateVectorStore(ctx context.Context, name string) (openai.VectorStore, error)
}

// Attacher uploads documents into a store and waits until they are searchable.
type Attacher interface {
	Attach(ctx context.Context, storeID string, docs []corpus.Document) (int, error)
}

// Index is the resolved remote store for one run.
type Index struct {
	ID string
	// Created is true when the store was created (and filled) by Resolve.
	Created bool
	// Attached is how many documents were attached on creation.
	Attached int
}

// Registry resolves the vector store identity.
type Registry struct {
	stores    Stores
	attacher  Attacher
	cachePath string
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Registry. An empty cachePath selects DefaultCacheFile.
func New(stores Stores, attacher Attacher, cachePath string, logger *slog.Logger) *Registry {
	if cachePath == "" {
		cachePath = DefaultCacheFile
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		stores:    stores,
		attacher:  attacher,
		cachePath: cachePath,
		logger:    logger,
		now:       time.Now,
	}
}

// CachePath returns the cache file location.
func (r *Registry) CachePath() string { return r.cachePath }

// Cached returns the cached ID without validating it.
func (r *Registry) Cached() string {
	return LoadCache(r.cachePath, r.logger)
}

// Resolve returns the first candidate that still exists remotely, trying
// explicit before the cached ID. Candidates reported missing are skipped;
// any other remote error is returned. With no surviving candidate a new
// store is created, filled with docs and written to the cache.
func (r *Registry) Resolve(ctx context.Context, explicit string, docs []corpus.Document) (Index, error) {
	for _, id := range r.candidates(explicit) {
		ok, err := r.exists(ctx, id)
		if err != nil {
			return Index{}, err
		}
		if ok {
			r.logger.Debug("reusing vector store", "vector_store_id", id)
			return Index{ID: id}, nil
		}
		r.logger.Warn("vector store not found, ignoring", "vector_store_id", id)
	}
	return r.create(ctx, docs)
}

func (r *Registry) candidates(explicit string) []string {
	var ids []string
	if id := strings.TrimSpace(explicit); id != "" {
		ids = append(ids, id)
	}
	if cached := strings.TrimSpace(r.Cached()); cached != "" && (len(ids) == 0 || ids[0] != cached) {
		ids = append(ids, cached)
	}
	return ids
}

func (r *Registry) exists(ctx context.Context, id string) (bool, error) {
	_, err := r.stores.GetVectorStore(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, openai.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (r *Registry) create(ctx context.Context, docs []corpus.Document) (Index, error) {
	if len(docs) == 0 {
		return Index{}, ErrEmptyCorpus
	}

	name := r.storeName()
	vs, err := r.stores.CreateVectorStore(ctx, name)
	if err != nil {
		return Index{}, err
	}
	r.logger.Info("created vector store", "vector_store_id", vs.ID, "name", name)

	n, err := r.attacher.Attach(ctx, vs.ID, docs)
	if err != nil {
		return Index{}, fmt.Errorf("filling vector store %s: %w", vs.ID, err)
	}

	if err := SaveCache(r.cachePath, vs.ID); err != nil {
		return Index{}, err
	}
	return Index{ID: vs.ID, Created: true, Attached: n}, nil
}

// storeName is unique per call: a UTC timestamp plus a random suffix.
func (r *Registry) storeName() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", NamePrefix, r.now().UTC().Format("20060102T150405Z"), suffix)
}
