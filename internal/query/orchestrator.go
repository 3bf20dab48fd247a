// Package query answers a prompt from a local corpus: it makes sure the
// remote index holds the corpus, runs a file_search assistant over it and
// returns the reply.
package query

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/pdfqa/internal/corpus"
	"github.com/kalambet/pdfqa/internal/job"
	"github.com/kalambet/pdfqa/internal/metrics"
	"github.com/kalambet/pdfqa/internal/openai"
	"github.com/kalambet/pdfqa/internal/registry"
)

// ErrNoAnswer means the run completed without an assistant reply. Callers
// show a placeholder rather than failing.
var ErrNoAnswer = errors.New("no answer found")

const (
	DefaultModel        = "gpt-4o-mini"
	DefaultDirectory    = "./pdfs"
	DefaultInstructions = "Answer the user's question using only the attached documents. " +
		"If the documents do not contain the answer, say so."

	assistantName   = "pdfqa"
	messagesLimit   = 10
	cleanupDeadline = 15 * time.Second
)

// Answer statuses, as recorded in history and metrics.
const (
	StatusCompleted = "completed"
	StatusNoAnswer  = "no_answer"
	StatusFailed    = "failed"
)

// Lister enumerates the corpus.
type Lister interface {
	List(dir string) ([]corpus.Document, error)
}

// Resolver picks the vector store for a run.
type Resolver interface {
	Resolve(ctx context.Context, explicit string, docs []corpus.Document) (registry.Index, error)
}

// Syncer uploads documents missing from a store.
type Syncer interface {
	Sync(ctx context.Context, storeID string, docs []corpus.Document) (int, error)
}

// Assistants is the subset of the OpenAI client used to run a query.
type Assistants interface {
	CreateAssistant(ctx context.Context, req openai.AssistantRequest) (openai.Assistant, error)
	DeleteAssistant(ctx context.Context, id string) error
	CreateThread(ctx context.Context, messages []openai.ThreadMessage) (openai.Thread, error)
	CreateRun(ctx context.Context, threadID, assistantID string) (openai.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (openai.Run, error)
	CancelRun(ctx context.Context, threadID, runID string) (openai.Run, error)
	ListMessages(ctx context.Context, threadID string, opts openai.ListOptions) (openai.MessageList, error)
}

// Record is one answer attempt.
type Record struct {
	Prompt    string
	Directory string
	IndexID   string
	RunID     string
	Answer    string
	Status    string
	Error     string
}

// SyncRecord is one completed standalone sync.
type SyncRecord struct {
	Directory string
	IndexID   string
	Created   bool
	Attached  int
	Source    string
}

// Recorder persists history. Failures are logged, never returned.
type Recorder interface {
	RecordAnswer(ctx context.Context, r Record) error
	RecordSync(ctx context.Context, r SyncRecord) error
}

// Request is a single question.
type Request struct {
	Prompt string
	// Directory holds the corpus; empty selects the configured default.
	Directory string
	// Reuse names a vector store to try before the configured default and the cache.
	Reuse string
}

// Answer is the outcome of a successful request.
type Answer struct {
	Text     string
	IndexID  string
	Created  bool
	Attached int
	RunID    string
	Polls    int
}

// SyncRequest asks for the index to be brought up to date without a question.
type SyncRequest struct {
	Directory string
	Reuse     string
	// Source names the caller in history ("cli", "watch", "api", "mcp").
	Source string
}

// SyncResult describes the index after a sync.
type SyncResult struct {
	IndexID   string
	Created   bool
	Attached  int
	Documents int
}

// Config wires an Orchestrator.
type Config struct {
	Model        string
	Instructions string
	Directory    string
	// DefaultIndexID is tried when a Request carries no Reuse.
	DefaultIndexID string
	Run            job.Policy
	Recorder       Recorder
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Orchestrator runs the whole ask flow.
type Orchestrator struct {
	lister     Lister
	resolver   Resolver
	syncer     Syncer
	assistants Assistants
	cfg        Config
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(lister Lister, resolver Resolver, syncer Syncer, assistants Assistants, cfg Config) *Orchestrator {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.Directory == "" {
		cfg.Directory = DefaultDirectory
	}
	if cfg.Run.Kind == "" {
		cfg.Run = job.RunPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		lister:     lister,
		resolver:   resolver,
		syncer:     syncer,
		assistants: assistants,
		cfg:        cfg,
		logger:     logger,
	}
}

// Answer lists the corpus, resolves and syncs the index, then asks the
// assistant. A completed run without a reply yields ErrNoAnswer together
// with the partially filled Answer.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (Answer, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Answer{}, errors.New("prompt is required")
	}
	if req.Directory == "" {
		req.Directory = o.cfg.Directory
	}

	ans, err := o.answer(ctx, req)

	status := StatusCompleted
	switch {
	case errors.Is(err, ErrNoAnswer):
		status = StatusNoAnswer
	case err != nil:
		status = StatusFailed
	}
	o.cfg.Metrics.Answer(status)
	o.record(ctx, req, ans, status, err)
	return ans, err
}

// Sync resolves the index for the directory and uploads missing documents.
func (o *Orchestrator) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	if req.Directory == "" {
		req.Directory = o.cfg.Directory
	}
	res, err := o.prepare(ctx, req.Directory, req.Reuse)
	if err != nil {
		return res, err
	}

	if o.cfg.Recorder != nil {
		rec := SyncRecord{
			Directory: req.Directory,
			IndexID:   res.IndexID,
			Created:   res.Created,
			Attached:  res.Attached,
			Source:    req.Source,
		}
		if rerr := o.cfg.Recorder.RecordSync(context.WithoutCancel(ctx), rec); rerr != nil {
			o.logger.Warn("failed to record sync", "error", rerr)
		}
	}
	return res, nil
}

// prepare lists the corpus, resolves the index and syncs it.
func (o *Orchestrator) prepare(ctx context.Context, dir, reuse string) (SyncResult, error) {
	docs, err := o.lister.List(dir)
	if err != nil {
		return SyncResult{}, err
	}

	explicit := reuse
	if explicit == "" {
		explicit = o.cfg.DefaultIndexID
	}
	idx, err := o.resolver.Resolve(ctx, explicit, docs)
	if err != nil {
		return SyncResult{}, err
	}
	res := SyncResult{IndexID: idx.ID, Created: idx.Created, Attached: idx.Attached, Documents: len(docs)}

	n, err := o.syncer.Sync(ctx, idx.ID, docs)
	res.Attached += n
	return res, err
}

func (o *Orchestrator) answer(ctx context.Context, req Request) (Answer, error) {
	prep, err := o.prepare(ctx, req.Directory, req.Reuse)
	ans := Answer{IndexID: prep.IndexID, Created: prep.Created, Attached: prep.Attached}
	if err != nil {
		return ans, err
	}

	asst, err := o.assistants.CreateAssistant(ctx, openai.AssistantRequest{
		Name:         assistantName,
		Model:        o.cfg.Model,
		Instructions: o.cfg.Instructions,
		Tools:        []openai.Tool{{Type: "file_search"}},
		ToolResources: &openai.ToolResources{
			FileSearch: &openai.FileSearchResources{VectorStoreIDs: []string{prep.IndexID}},
		},
	})
	if err != nil {
		return ans, err
	}
	defer o.deleteAssistant(ctx, asst.ID)

	thread, err := o.assistants.CreateThread(ctx, []openai.ThreadMessage{{Role: "user", Content: req.Prompt}})
	if err != nil {
		return ans, err
	}

	run, err := o.assistants.CreateRun(ctx, thread.ID, asst.ID)
	if err != nil {
		return ans, err
	}
	ans.RunID = run.ID
	o.logger.Debug("run started", "run_id", run.ID, "thread_id", thread.ID, "assistant_id", asst.ID)

	final, polls, err := o.awaitRun(ctx, thread.ID, run.ID)
	ans.Polls = polls
	if err != nil {
		return ans, err
	}
	o.logger.Debug("run completed", "run_id", final.ID, "polls", polls)

	msgs, err := o.assistants.ListMessages(ctx, thread.ID, openai.ListOptions{Limit: messagesLimit, Order: "desc"})
	if err != nil {
		return ans, err
	}
	text := AssistantText(msgs.Data)
	if text == "" {
		return ans, ErrNoAnswer
	}
	ans.Text = text
	return ans, nil
}

func (o *Orchestrator) awaitRun(ctx context.Context, threadID, runID string) (openai.Run, int, error) {
	poll := func(ctx context.Context) (openai.Run, error) {
		return o.assistants.GetRun(ctx, threadID, runID)
	}
	state := func(r openai.Run) job.State {
		return job.State{ID: r.ID, Status: r.Status, Detail: r.Detail()}
	}

	final, polls, err := job.Await(ctx, o.cfg.Run, poll, state, o.cfg.Metrics.ObservePoll)
	if err == nil {
		o.cfg.Metrics.JobDone(o.cfg.Run.Kind, final.Status)
		return final, polls, nil
	}

	var fe *job.FailedError
	if errors.As(err, &fe) {
		o.cfg.Metrics.JobDone(o.cfg.Run.Kind, fe.Status)
	}
	if errors.Is(err, job.ErrTimeout) || ctx.Err() != nil {
		o.cancelRun(ctx, threadID, runID)
	}
	return final, polls, err
}

// cancelRun stops a run we gave up on so it does not keep consuming tokens.
func (o *Orchestrator) cancelRun(ctx context.Context, threadID, runID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupDeadline)
	defer cancel()
	if _, err := o.assistants.CancelRun(ctx, threadID, runID); err != nil {
		o.logger.Warn("failed to cancel run", "run_id", runID, "error", err)
		return
	}
	o.logger.Info("cancelled run", "run_id", runID)
}

func (o *Orchestrator) deleteAssistant(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupDeadline)
	defer cancel()
	if err := o.assistants.DeleteAssistant(ctx, id); err != nil {
		o.logger.Warn("failed to delete assistant", "assistant_id", id, "error", err)
	}
}

func (o *Orchestrator) record(ctx context.Context, req Request, ans Answer, status string, err error) {
	if o.cfg.Recorder == nil {
		return
	}
	r := Record{
		Prompt:    req.Prompt,
		Directory: req.Directory,
		IndexID:   ans.IndexID,
		RunID:     ans.RunID,
		Answer:    ans.Text,
		Status:    status,
	}
	if err != nil && status == StatusFailed {
		r.Error = err.Error()
	}
	if rerr := o.cfg.Recorder.RecordAnswer(context.WithoutCancel(ctx), r); rerr != nil {
		o.logger.Warn("failed to record interaction", "error", rerr)
	}
}

// AssistantText returns the text of the first assistant message in msgs,
// concatenating its text segments. Messages are expected newest first.
func AssistantText(msgs []openai.Message) string {
	for _, m := range msgs {
		if m.Role != "assistant" {
			continue
		}
		var b strings.Builder
		for _, c := range m.Content {
			if c.Type == "text" && c.Text != nil {
				b.WriteString(c.Text.Value)
			}
		}
		return strings.TrimSpace(b.String())
	}
	return ""
}

