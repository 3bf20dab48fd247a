// Package syncer brings a remote vector store's membership in line with the
// local corpus. Documents are keyed by filename only: a file whose content
// changes under the same name is not re-uploaded.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/pdfqa/internal/corpus"
	"github.com/kalambet/pdfqa/internal/job"
	"github.com/kalambet/pdfqa/internal/metrics"
	"github.com/kalambet/pdfqa/internal/openai"
)

const (
	DefaultPageSize          = 100
	DefaultLookupConcurrency = 1
)

// ErrUploadFailed matches every *UploadError.
var ErrUploadFailed = errors.New("upload failed")

// UploadError aborts a sync; nothing from the aborted sync is attached.
type UploadError struct {
	Name string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("uploading %s: %v", e.Name, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

func (e *UploadError) Is(target error) bool { return target == ErrUploadFailed }

// Remote is the subset of the OpenAI client used for synchronization.
type Remote interface {
	ListVectorStoreFiles(ctx context.Context, storeID string, opts openai.ListOptions) (openai.VectorStoreFilePage, error)
	GetFile(ctx context.Context, id string) (openai.File, error)
	UploadFile(ctx context.Context, filename string, r io.Reader, purpose string) (openai.File, error)
	CreateFileBatch(ctx context.Context, storeID string, fileIDs []string) (openai.FileBatch, error)
	GetFileBatch(ctx context.Context, storeID, batchID string) (openai.FileBatch, error)
}

// Config tunes a Synchronizer. Zero values select defaults.
type Config struct {
	PageSize          int
	LookupConcurrency int
	Batch             job.Policy
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
}

// Synchronizer computes and applies the delta between a corpus and a vector store.
type Synchronizer struct {
	remote      Remote
	pageSize    int
	concurrency int
	batch       job.Policy
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Synchronizer.
func New(remote Remote, cfg Config) *Synchronizer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.LookupConcurrency <= 0 {
		cfg.LookupConcurrency = DefaultLookupConcurrency
	}
	if cfg.Batch.Kind == "" {
		cfg.Batch = job.BatchPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Synchronizer{
		remote:      remote,
		pageSize:    cfg.PageSize,
		concurrency: cfg.LookupConcurrency,
		batch:       cfg.Batch,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// Sync uploads and attaches the documents whose names are not yet present
// in the store. It returns the number of documents attached; 0 means the
// store was already up to date and no request beyond the listing was made.
func (s *Synchronizer) Sync(ctx context.Context, storeID string, docs []corpus.Document) (int, error) {
	members, err := s.Membership(ctx, storeID)
	if err != nil {
		return 0, err
	}

	missing := Delta(docs, members)
	if len(missing) == 0 {
		s.logger.Debug("vector store up to date", "vector_store_id", storeID, "documents", len(docs))
		return 0, nil
	}

	s.logger.Info("syncing new documents", "vector_store_id", storeID, "new", len(missing), "remote", len(members))
	return s.Attach(ctx, storeID, missing)
}

// Delta returns the documents whose Name is not a key of members, in corpus order.
func Delta(docs []corpus.Document, members map[string]string) []corpus.Document {
	var missing []corpus.Document
	for _, d := range docs {
		if _, ok := members[d.Name]; !ok {
			missing = append(missing, d)
		}
	}
	return missing
}

// Membership maps filename to file ID for every file attached to the store.
// Entries whose metadata cannot be fetched are skipped. When several remote
// files share a filename the first one listed wins.
func (s *Synchronizer) Membership(ctx context.Context, storeID string) (map[string]string, error) {
	entries, err := s.listAll(ctx, storeID)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(entries))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, e := range entries {
		g.Go(func() error {
			f, err := s.remote.GetFile(gCtx, e.ID)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("skipping vector store file", "file_id", e.ID, "error", err)
				return nil
			}
			names[i] = f.Filename
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	members := make(map[string]string, len(entries))
	for i, e := range entries {
		name := names[i]
		if name == "" {
			continue
		}
		if prev, dup := members[name]; dup {
			s.logger.Warn("duplicate filename in vector store", "filename", name, "kept", prev, "ignored", e.ID)
			continue
		}
		members[name] = e.ID
	}
	return members, nil
}

// listAll pages through the store's files. It stops as soon as the service
// stops reporting more pages or returns no usable cursor.
func (s *Synchronizer) listAll(ctx context.Context, storeID string) ([]openai.VectorStoreFile, error) {
	var all []openai.VectorStoreFile
	after := ""
	for {
		page, err := s.remote.ListVectorStoreFiles(ctx, storeID, openai.ListOptions{Limit: s.pageSize, After: after})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data...)

		if !page.HasMore || len(page.Data) == 0 || page.LastID == "" || page.LastID == after {
			return all, nil
		}
		after = page.LastID
	}
}

// Attach uploads docs one at a time and attaches them to the store in a
// single file batch, waiting for the batch to complete. Any upload failure
// aborts before the batch is created.
func (s *Synchronizer) Attach(ctx context.Context, storeID string, docs []corpus.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	fileIDs := make([]string, 0, len(docs))
	for _, d := range docs {
		id, err := s.upload(ctx, d)
		if err != nil {
			s.metrics.Upload(false)
			return 0, &UploadError{Name: d.Name, Err: err}
		}
		s.metrics.Upload(true)
		s.logger.Debug("uploaded document", "name", d.Name, "file_id", id)
		fileIDs = append(fileIDs, id)
	}

	batch, err := s.remote.CreateFileBatch(ctx, storeID, fileIDs)
	if err != nil {
		return 0, err
	}

	poll := func(ctx context.Context) (openai.FileBatch, error) {
		return s.remote.GetFileBatch(ctx, storeID, batch.ID)
	}
	state := func(b openai.FileBatch) job.State {
		detail := ""
		if b.FileCounts.Failed > 0 {
			detail = fmt.Sprintf("%d of %d files failed", b.FileCounts.Failed, b.FileCounts.Total)
		}
		return job.State{ID: b.ID, Status: b.Status, Detail: detail}
	}
	final, polls, err := job.Await(ctx, s.batch, poll, state, s.metrics.ObservePoll)
	if err != nil {
		var fe *job.FailedError
		if errors.As(err, &fe) {
			s.metrics.JobDone(s.batch.Kind, fe.Status)
		}
		return 0, fmt.Errorf("attaching %d documents: %w", len(fileIDs), err)
	}
	s.metrics.JobDone(s.batch.Kind, final.Status)

	s.logger.Info("file batch completed", "batch_id", final.ID, "files", len(fileIDs), "polls", polls)
	return len(fileIDs), nil
}

func (s *Synchronizer) upload(ctx context.Context, d corpus.Document) (string, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	uploaded, err := s.remote.UploadFile(ctx, d.Name, f, openai.PurposeAssistants)
	if err != nil {
		return "", err
	}
	return uploaded.ID, nil
}
