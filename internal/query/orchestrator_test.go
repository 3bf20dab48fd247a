package query

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/pdfqa/internal/corpus"
	"github.com/kalambet/pdfqa/internal/job"
	"github.com/kalambet/pdfqa/internal/metrics"
	"github.com/kalambet/pdfqa/internal/openai"
	"github.com/kalambet/pdfqa/internal/openai/openaitest"
	"github.com/kalambet/pdfqa/internal/registry"
	"github.com/kalambet/pdfqa/internal/syncer"
)

type memRecorder struct {
	mu      sync.Mutex
	records []Record
	syncs   []SyncRecord
}

func (m *memRecorder) RecordSync(_ context.Context, r SyncRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs = append(m.syncs, r)
	return nil
}

func (m *memRecorder) RecordAnswer(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

type fixture struct {
	srv   *openaitest.Server
	orch  *Orchestrator
	dir   string
	cache string
	rec   *memRecorder
	m     *metrics.Metrics
}

func newFixture(t *testing.T, runTimeout time.Duration, files ...string) *fixture {
	t.Helper()
	srv := openaitest.NewServer(t)
	client := srv.Client()

	dir := t.TempDir()
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("%PDF-1.4 "+f), 0o644))
	}
	cache := filepath.Join(t.TempDir(), ".pdfqa", "vector_store.json")

	batch := job.BatchPolicy()
	batch.Interval = time.Millisecond
	run := job.RunPolicy()
	run.Interval = time.Millisecond
	run.Timeout = runTimeout

	m := metrics.New()
	rec := &memRecorder{}
	sy := syncer.New(client, syncer.Config{Batch: batch, Metrics: m})
	reg := registry.New(client, sy, cache, nil)
	orch := New(corpus.NewReader(corpus.DefaultMaxDocuments), reg, sy, client, Config{
		Directory: dir,
		Run:       run,
		Recorder:  rec,
		Metrics:   m,
	})
	return &fixture{srv: srv, orch: orch, dir: dir, cache: cache, rec: rec, m: m}
}

func TestAnswer_EndToEnd(t *testing.T) {
	f := newFixture(t, 5*time.Second, "spec.pdf")
	f.srv.RunPendingPolls = 2
	f.srv.Answer = "It describes the system."

	ans, err := f.orch.Answer(context.Background(), Request{Prompt: "What is in spec.pdf?"})
	require.NoError(t, err)

	assert.Equal(t, "It describes the system.", ans.Text)
	assert.True(t, ans.Created)
	assert.Equal(t, 1, ans.Attached)
	assert.Equal(t, 3, ans.Polls)
	assert.NotEmpty(t, ans.RunID)
	assert.Equal(t, []string{"spec.pdf"}, f.srv.StoreFilenames(ans.IndexID))
	assert.Equal(t, ans.IndexID, registry.LoadCache(f.cache, nil))

	require.Len(t, f.rec.records, 1)
	assert.Equal(t, StatusCompleted, f.rec.records[0].Status)
	assert.Equal(t, ans.IndexID, f.rec.records[0].IndexID)
	assert.Equal(t, f.dir, f.rec.records[0].Directory)
}

func TestAnswer_AssistantBoundToStoreAndDeleted(t *testing.T) {
	f := newFixture(t, 5*time.Second, "a.pdf")
	f.srv.Answer = "yes"

	ans, err := f.orch.Answer(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)

	deleted := f.srv.DeletedAssistants()
	require.Len(t, deleted, 1)
	assert.Equal(t, 1, f.srv.Requests("POST /assistants"))
	_, stillThere := f.srv.Assistant(deleted[0])
	assert.False(t, stillThere)
	assert.NotEmpty(t, ans.IndexID)
}

func TestAnswer_SecondRunReusesCacheWithoutUploads(t *testing.T) {
	f := newFixture(t, 5*time.Second, "a.pdf", "b.pdf")
	f.srv.Answer = "ok"

	first, err := f.orch.Answer(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
	uploads := f.srv.Requests("POST /files")

	second, err := f.orch.Answer(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, first.IndexID, second.IndexID)
	assert.False(t, second.Created)
	assert.Zero(t, second.Attached)
	assert.Equal(t, uploads, f.srv.Requests("POST /files"))
	assert.Equal(t, 1, f.srv.Requests("POST /vector_stores"))
}

func TestAnswer_SyncsNewDocumentsIntoReusedStore(t *testing.T) {
	f := newFixture(t, 5*time.Second, "a.pdf")
	f.srv.Answer = "ok"
	storeID := f.srv.AddStore("a.pdf", "b.pdf")

	ans, err := f.orch.Answer(context.Background(), Request{Prompt: "q", Reuse: storeID})
	require.NoError(t, err)
	assert.Equal(t, storeID, ans.IndexID)
	assert.Zero(t, ans.Attached)

	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "c.pdf"), []byte("%PDF"), 0o644))
	ans, err = f.orch.Answer(context.Background(), Request{Prompt: "q", Reuse: storeID})
	require.NoError(t, err)
	assert.Equal(t, 1, ans.Attached)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, f.srv.StoreFilenames(storeID))
}

func TestAnswer_NoAssistantMessage(t *testing.T) {
	f := newFixture(t, 5*time.Second, "a.pdf")

	ans, err := f.orch.Answer(context.Background(), Request{Prompt: "q"})
	require.ErrorIs(t, err, ErrNoAnswer)
	assert.NotEmpty(t, ans.IndexID)
	assert.Empty(t, ans.Text)

	require.Len(t, f.rec.records, 1)
	assert.Equal(t, StatusNoAnswer, f.rec.records[0].Status)
	assert.Empty(t, f.rec.records[0].Error)
}

func TestAnswer_RunFailed(t *testing.T) {
	f := newFixture(t, 5*time.Second, "a.pdf")
	f.srv.RunFinalStatus = "failed"
	f.srv.RunError = &openai.RunError{Code: "rate_limit_exceeded", Message: "quota"}

	_, err := f.orch.Answer(context.Background(), Request{Prompt: "q"})
	require.ErrorIs(t, err, job.ErrJobFailed)

	var fe *job.FailedError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "failed", fe.Status)
	assert.Equal(t, "rate_limit_exceeded: quota", fe.Detail)
	assert.Len(t, f.srv.DeletedAssistants(), 1)

	require.Len(t, f.rec.records, 1)
	assert.Equal(t, StatusFailed, f.rec.records[0].Status)
	assert.Contains(t, f.rec.records[0].Error, "quota")
}

func TestAnswer_TimeoutCancelsRun(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond, "a.pdf")
	f.srv.RunPendingPolls = 1 << 30

	ans, err := f.orch.Answer(context.Background(), Request{Prompt: "q"})
	require.ErrorIs(t, err, job.ErrTimeout)
	assert.Equal(t, []string{ans.RunID}, f.srv.CancelledRuns())
	assert.Len(t, f.srv.DeletedAssistants(), 1)
}

func TestAnswer_DirectoryNotFound(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	_, err := f.orch.Answer(context.Background(), Request{Prompt: "q", Directory: filepath.Join(f.dir, "nope")})
	require.ErrorIs(t, err, corpus.ErrDirectoryNotFound)
	assert.Zero(t, f.srv.Requests("GET /vector_stores/{id}"))
}

func TestAnswer_EmptyCorpus(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	_, err := f.orch.Answer(context.Background(), Request{Prompt: "q"})
	require.ErrorIs(t, err, registry.ErrEmptyCorpus)
	assert.Zero(t, f.srv.Requests("POST /assistants"))
}

func TestAnswer_EmptyPrompt(t *testing.T) {
	f := newFixture(t, 5*time.Second, "a.pdf")
	_, err := f.orch.Answer(context.Background(), Request{Prompt: "  "})
	assert.Error(t, err)
	assert.Empty(t, f.rec.records)
}

func TestAssistantText(t *testing.T) {
	text := func(v string) openai.MessageContent {
		return openai.MessageContent{Type: "text", Text: &openai.MessageText{Value: v}}
	}
	tests := []struct {
		name string
		msgs []openai.Message
		want string
	}{
		{"empty", nil, ""},
		{"user only", []openai.Message{{Role: "user", Content: []openai.MessageContent{text("q")}}}, ""},
		{
			"concatenates segments",
			[]openai.Message{{Role: "assistant", Content: []openai.MessageContent{
				text("Hello, "), {Type: "image_file"}, text("world"),
			}}},
			"Hello, world",
		},
		{
			"first assistant wins",
			[]openai.Message{
				{Role: "assistant", Content: []openai.MessageContent{text("newest")}},
				{Role: "user", Content: []openai.MessageContent{text("q")}},
				{Role: "assistant", Content: []openai.MessageContent{text("older")}},
			},
			"newest",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AssistantText(tt.msgs))
		})
	}
}

type failingRecorder struct{}

func (failingRecorder) RecordAnswer(context.Context, Record) error { return errors.New("disk full") }

func (failingRecorder) RecordSync(context.Context, SyncRecord) error { return errors.New("disk full") }

func TestAnswer_RecorderFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, 5*time.Second, "a.pdf")
	f.srv.Answer = "fine"
	f.orch.cfg.Recorder = failingRecorder{}

	ans, err := f.orch.Answer(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "fine", ans.Text)
}

func TestSync_CreatesThenNoops(t *testing.T) {
	f := newFixture(t, 5*time.Second, "a.pdf", "b.pdf")

	first, err := f.orch.Sync(context.Background(), SyncRequest{Source: "cli"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, 2, first.Attached)
	assert.Equal(t, 2, first.Documents)

	second, err := f.orch.Sync(context.Background(), SyncRequest{Source: "watch"})
	require.NoError(t, err)
	assert.Equal(t, first.IndexID, second.IndexID)
	assert.False(t, second.Created)
	assert.Zero(t, second.Attached)
	assert.Zero(t, f.srv.Requests("POST /assistants"))

	require.Len(t, f.rec.syncs, 2)
	assert.Equal(t, "cli", f.rec.syncs[0].Source)
	assert.Equal(t, "watch", f.rec.syncs[1].Source)
	assert.Equal(t, f.dir, f.rec.syncs[1].Directory)
}

func TestSync_FailureNotRecorded(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	_, err := f.orch.Sync(context.Background(), SyncRequest{})
	require.ErrorIs(t, err, registry.ErrEmptyCorpus)
	assert.Empty(t, f.rec.syncs)
}
