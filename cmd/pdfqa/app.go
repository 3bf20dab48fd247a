package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/pdfqa/internal/config"
	"github.com/kalambet/pdfqa/internal/corpus"
	"github.com/kalambet/pdfqa/internal/job"
	"github.com/kalambet/pdfqa/internal/metrics"
	"github.com/kalambet/pdfqa/internal/openai"
	"github.com/kalambet/pdfqa/internal/query"
	"github.com/kalambet/pdfqa/internal/registry"
	"github.com/kalambet/pdfqa/internal/storage"
	"github.com/kalambet/pdfqa/internal/syncer"
)

// app holds the components shared by every command.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	client   *openai.Client
	reader   *corpus.Reader
	syncer   *syncer.Synchronizer
	registry *registry.Registry
	store    *storage.Store // nil when history could not be opened
	orch     *query.Orchestrator
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newApp(cfg config.Config) *app {
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		client:  openai.NewClientWithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL),
		reader:  corpus.NewReader(cfg.Corpus.MaxDocuments),
	}

	batch := job.BatchPolicy()
	run := job.RunPolicy()
	if cfg.Poll.Interval > 0 {
		batch.Interval = cfg.Poll.Interval
		run.Interval = cfg.Poll.Interval
	}
	if cfg.Poll.Timeout > 0 {
		batch.Timeout = cfg.Poll.Timeout
		run.Timeout = cfg.Poll.Timeout
	}

	a.syncer = syncer.New(a.client, syncer.Config{
		PageSize:          cfg.Sync.PageSize,
		LookupConcurrency: cfg.Sync.LookupConcurrency,
		Batch:             batch,
		Metrics:           a.metrics,
		Logger:            logger,
	})
	a.registry = registry.New(a.client, a.syncer, cfg.Index.CacheFile, logger)

	var recorder query.Recorder
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		logger.Warn("history disabled", "data_dir", cfg.Storage.DataDir, "error", err)
	} else {
		a.store = store
		recorder = historyRecorder{store: store}
	}

	a.orch = query.New(a.reader, a.registry, a.syncer, a.client, query.Config{
		Model:          cfg.OpenAI.Model,
		Directory:      cfg.Corpus.Dir,
		DefaultIndexID: cfg.Index.DefaultID,
		Run:            run,
		Recorder:       recorder,
		Metrics:        a.metrics,
		Logger:         logger,
	})
	return a
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing storage", "error", err)
	}
}

// historyRecorder writes query outcomes to the history database.
type historyRecorder struct {
	store *storage.Store
}

func (h historyRecorder) RecordAnswer(_ context.Context, r query.Record) error {
	_, err := h.store.SaveInteraction(storage.Interaction{
		Prompt:        r.Prompt,
		Directory:     r.Directory,
		VectorStoreID: r.IndexID,
		RunID:         r.RunID,
		Answer:        r.Answer,
		Status:        r.Status,
		Error:         r.Error,
	})
	return err
}

func (h historyRecorder) RecordSync(_ context.Context, r query.SyncRecord) error {
	_, err := h.store.SaveSyncRun(storage.SyncRun{
		Directory:     r.Directory,
		VectorStoreID: r.IndexID,
		Created:       r.Created,
		Attached:      r.Attached,
		Source:        r.Source,
	})
	return err
}
