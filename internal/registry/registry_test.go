package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/pdfqa/internal/corpus"
	"github.com/kalambet/pdfqa/internal/job"
	"github.com/kalambet/pdfqa/internal/openai"
	"github.com/kalambet/pdfqa/internal/openai/openaitest"
	"github.com/kalambet/pdfqa/internal/syncer"
)

func newRegistry(t *testing.T, srv *openaitest.Server) (*Registry, string) {
	t.Helper()
	batch := job.BatchPolicy()
	batch.Interval = time.Millisecond
	client := srv.Client()
	cache := filepath.Join(t.TempDir(), ".pdfqa", "vector_store.json")
	return New(client, syncer.New(client, syncer.Config{Batch: batch}), cache, nil), cache
}

func docs(t *testing.T, names ...string) []corpus.Document {
	t.Helper()
	dir := t.TempDir()
	var out []corpus.Document
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4"), 0o644))
		out = append(out, corpus.Document{Name: n, Path: p})
	}
	return out
}

func TestResolve_CreatesWhenNoCandidate(t *testing.T) {
	srv := openaitest.NewServer(t)
	r, cache := newRegistry(t, srv)

	idx, err := r.Resolve(context.Background(), "", docs(t, "spec.pdf"))
	require.NoError(t, err)
	assert.True(t, idx.Created)
	assert.Equal(t, 1, idx.Attached)
	assert.Equal(t, []string{"spec.pdf"}, srv.StoreFilenames(idx.ID))
	assert.Equal(t, idx.ID, LoadCache(cache, nil))
}

func TestResolve_ReusesCached(t *testing.T) {
	srv := openaitest.NewServer(t)
	storeID := srv.AddStore("a.pdf")
	r, cache := newRegistry(t, srv)
	require.NoError(t, SaveCache(cache, storeID))

	idx, err := r.Resolve(context.Background(), "", docs(t, "a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, Index{ID: storeID}, idx)
	assert.Zero(t, srv.Requests("POST /vector_stores"))
}

func TestResolve_CachedNotFoundIsReplaced(t *testing.T) {
	srv := openaitest.NewServer(t)
	r, cache := newRegistry(t, srv)
	require.NoError(t, SaveCache(cache, "vs_gone"))

	idx, err := r.Resolve(context.Background(), "", docs(t, "a.pdf"))
	require.NoError(t, err)
	assert.True(t, idx.Created)
	assert.NotEqual(t, "vs_gone", idx.ID)
	assert.Equal(t, idx.ID, LoadCache(cache, nil), "stale cache must be overwritten")
}

func TestResolve_ExplicitBeatsCache(t *testing.T) {
	srv := openaitest.NewServer(t)
	cached := srv.AddStore()
	explicit := srv.AddStore()
	r, cache := newRegistry(t, srv)
	require.NoError(t, SaveCache(cache, cached))

	idx, err := r.Resolve(context.Background(), explicit, nil)
	require.NoError(t, err)
	assert.Equal(t, explicit, idx.ID)
	assert.Equal(t, 1, srv.Requests("GET /vector_stores/{id}"))
	assert.Equal(t, cached, LoadCache(cache, nil), "reuse must not rewrite the cache")
}

func TestResolve_ExplicitMissingFallsBackToCache(t *testing.T) {
	srv := openaitest.NewServer(t)
	cached := srv.AddStore()
	r, cache := newRegistry(t, srv)
	require.NoError(t, SaveCache(cache, cached))

	idx, err := r.Resolve(context.Background(), "vs_missing", nil)
	require.NoError(t, err)
	assert.Equal(t, cached, idx.ID)
}

func TestResolve_SameCandidateCheckedOnce(t *testing.T) {
	srv := openaitest.NewServer(t)
	id := srv.AddStore()
	r, cache := newRegistry(t, srv)
	require.NoError(t, SaveCache(cache, id))

	_, err := r.Resolve(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Requests("GET /vector_stores/{id}"))
}

func TestResolve_EmptyCorpus(t *testing.T) {
	srv := openaitest.NewServer(t)
	r, cache := newRegistry(t, srv)

	_, err := r.Resolve(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyCorpus)
	assert.Zero(t, srv.Requests("POST /vector_stores"))
	assert.NoFileExists(t, cache)
}

func TestResolve_TransportErrorPropagates(t *testing.T) {
	srv := openaitest.NewServer(t)
	client := srv.Client()
	srv.Close()

	cache := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, SaveCache(cache, "vs_1"))
	r := New(client, nil, cache, nil)

	_, err := r.Resolve(context.Background(), "", nil)
	var te *openai.TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, errors.Is(err, ErrEmptyCorpus))
}

func TestResolve_UploadFailureLeavesCacheUntouched(t *testing.T) {
	srv := openaitest.NewServer(t)
	srv.FailUpload = map[string]bool{"a.pdf": true}
	r, cache := newRegistry(t, srv)

	_, err := r.Resolve(context.Background(), "", docs(t, "a.pdf"))
	require.ErrorIs(t, err, syncer.ErrUploadFailed)
	assert.NoFileExists(t, cache)
}

func TestStoreName(t *testing.T) {
	r := New(nil, nil, "", nil)
	r.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 6, 0, time.FixedZone("X", 3600)) }

	a, b := r.storeName(), r.storeName()
	assert.Regexp(t, regexp.MustCompile(`^pdfqa-20240309T130506Z-[0-9a-f]{8}$`), a)
	assert.NotEqual(t, a, b)
}

func TestCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "vs.json")

	assert.Empty(t, LoadCache(path, nil), "missing file")

	require.NoError(t, SaveCache(path, "vs_abc"))
	assert.Equal(t, "vs_abc", LoadCache(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"vectorStoreId":"vs_abc"}`, string(data))

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	assert.Empty(t, LoadCache(path, nil), "corrupt file")

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.Empty(t, LoadCache(path, nil), "empty file")

	require.NoError(t, ClearCache(path))
	require.NoError(t, ClearCache(path))
	assert.NoFileExists(t, path)
}
