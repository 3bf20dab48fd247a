// Package openaitest provides an in-memory fake of the OpenAI endpoints
// used by pdfqa, served over httptest.
package openaitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/pdfqa/internal/openai"
)

// Server is a fake OpenAI API. Exported fields tune its behaviour and must
// be set before the first request.
type Server struct {
	*httptest.Server

	// BatchPendingPolls is how many GETs of a file batch report in_progress
	// before it reaches BatchFinalStatus.
	BatchPendingPolls int
	BatchFinalStatus  string
	// RunPendingPolls and RunFinalStatus do the same for runs.
	RunPendingPolls int
	RunFinalStatus  string
	RunError        *openai.RunError
	// Answer is the assistant reply appended when a run completes. Empty
	// means the run completes without an assistant message.
	Answer string
	// FailUpload rejects uploads of these filenames with a 500.
	FailUpload map[string]bool
	// FailGetFile rejects metadata lookups of these file IDs with a 500.
	FailGetFile map[string]bool
	// MaxPageSize caps list pages regardless of the requested limit.
	MaxPageSize int

	mu         sync.Mutex
	seq        int
	stores     map[string][]string
	files      map[string]openai.File
	batches    map[string]*batchState
	assistants map[string]openai.AssistantRequest
	threads    map[string][]openai.Message
	runs       map[string]*runState
	requests   map[string]int
	deleted    []string
	cancelled  []string
}

type batchState struct {
	batch   openai.FileBatch
	fileIDs []string
	polls   int
}

type runState struct {
	run   openai.Run
	polls int
}

// NewServer starts a fake and registers its shutdown with t.
func NewServer(t testing.TB) *Server {
	s := &Server{
		BatchFinalStatus: "completed",
		RunFinalStatus:   "completed",
		stores:           make(map[string][]string),
		files:            make(map[string]openai.File),
		batches:          make(map[string]*batchState),
		assistants:       make(map[string]openai.AssistantRequest),
		threads:          make(map[string][]openai.Message),
		runs:             make(map[string]*runState),
		requests:         make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(s.count)
	r.Post("/vector_stores", s.createStore)
	r.Get("/vector_stores/{id}", s.getStore)
	r.Get("/vector_stores/{id}/files", s.listStoreFiles)
	r.Post("/vector_stores/{id}/file_batches", s.createBatch)
	r.Get("/vector_stores/{id}/file_batches/{bid}", s.getBatch)
	r.Post("/files", s.uploadFile)
	r.Get("/files/{id}", s.getFile)
	r.Post("/assistants", s.createAssistant)
	r.Delete("/assistants/{id}", s.deleteAssistant)
	r.Post("/threads", s.createThread)
	r.Post("/threads/{tid}/runs", s.createRun)
	r.Get("/threads/{tid}/runs/{rid}", s.getRun)
	r.Post("/threads/{tid}/runs/{rid}/cancel", s.cancelRun)
	r.Get("/threads/{tid}/messages", s.listMessages)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Client returns an openai.Client pointed at the fake.
func (s *Server) Client() *openai.Client {
	return openai.NewClientWithBaseURL("test-key", s.URL)
}

// AddStore creates a store holding files with the given names and returns its ID.
func (s *Server) AddStore(filenames ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID("vs")
	s.stores[id] = nil
	for _, name := range filenames {
		fid := s.nextID("file")
		s.files[fid] = openai.File{ID: fid, Filename: name, Purpose: openai.PurposeAssistants}
		s.stores[id] = append(s.stores[id], fid)
	}
	return id
}

// StoreFilenames returns the filenames attached to a store, in attach order.
func (s *Server) StoreFilenames(storeID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, fid := range s.stores[storeID] {
		out = append(out, s.files[fid].Filename)
	}
	return out
}

// StoreIDs returns every known store ID.
func (s *Server) StoreIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id := range s.stores {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Requests returns how many requests matched the route pattern, e.g.
// "POST /files" or "GET /vector_stores/{id}/files".
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// DeletedAssistants lists assistant IDs deleted so far.
func (s *Server) DeletedAssistants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.deleted)
}

// CancelledRuns lists run IDs cancelled so far.
func (s *Server) CancelledRuns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cancelled)
}

// Assistant returns the creation request of an assistant.
func (s *Server) Assistant(id string) (openai.AssistantRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assistants[id]
	return a, ok
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		s.mu.Lock()
		s.requests[r.Method+" "+pattern]++
		s.mu.Unlock()
	})
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_%03d", prefix, s.seq)
}

func (s *Server) createStore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	id := s.nextID("vs")
	s.stores[id] = nil
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, openai.VectorStore{ID: id, Name: body.Name, Status: "completed"})
}

func (s *Server) getStore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	_, ok := s.stores[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "No vector store found with id '"+id+"'.")
		return
	}
	writeJSON(w, http.StatusOK, openai.VectorStore{ID: id, Status: "completed"})
}

func (s *Server) listStoreFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	if s.MaxPageSize > 0 && limit > s.MaxPageSize {
		limit = s.MaxPageSize
	}
	after := r.URL.Query().Get("after")

	s.mu.Lock()
	ids, ok := s.stores[id]
	ids = slices.Clone(ids)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "No vector store found with id '"+id+"'.")
		return
	}

	start := 0
	if after != "" {
		start = slices.Index(ids, after) + 1
	}
	end := min(start+limit, len(ids))

	page := openai.VectorStoreFilePage{Data: []openai.VectorStoreFile{}}
	for _, fid := range ids[start:end] {
		page.Data = append(page.Data, openai.VectorStoreFile{ID: fid, VectorStoreID: id, Status: "completed"})
	}
	if len(page.Data) > 0 {
		page.FirstID = page.Data[0].ID
		page.LastID = page.Data[len(page.Data)-1].ID
	}
	page.HasMore = end < len(ids)
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		FileIDs []string `json:"file_ids"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stores[id]; !ok {
		writeError(w, http.StatusNotFound, "No vector store found with id '"+id+"'.")
		return
	}
	b := &batchState{
		batch: openai.FileBatch{
			ID:            s.nextID("vsfb"),
			VectorStoreID: id,
			Status:        "in_progress",
			FileCounts:    openai.FileBatchCount{InProgress: len(body.FileIDs), Total: len(body.FileIDs)},
		},
		fileIDs: body.FileIDs,
	}
	s.batches[b.batch.ID] = b
	writeJSON(w, http.StatusOK, b.batch)
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[chi.URLParam(r, "bid")]
	if !ok || b.batch.VectorStoreID != storeID {
		writeError(w, http.StatusNotFound, "No file batch found.")
		return
	}
	b.polls++
	if b.polls > s.BatchPendingPolls && b.batch.Status == "in_progress" {
		b.batch.Status = s.BatchFinalStatus
		b.batch.FileCounts.InProgress = 0
		if b.batch.Status == "completed" {
			b.batch.FileCounts.Completed = len(b.fileIDs)
			s.stores[storeID] = append(s.stores[storeID], b.fileIDs...)
		} else {
			b.batch.FileCounts.Failed = len(b.fileIDs)
		}
	}
	writeJSON(w, http.StatusOK, b.batch)
}

func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer f.Close()
	n, _ := io.Copy(io.Discard, f)

	if s.FailUpload[hdr.Filename] {
		writeError(w, http.StatusInternalServerError, "upload rejected")
		return
	}

	s.mu.Lock()
	file := openai.File{ID: s.nextID("file"), Filename: hdr.Filename, Bytes: n, Purpose: r.FormValue("purpose")}
	s.files[file.ID] = file
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, file)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.FailGetFile[id] {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.mu.Lock()
	f, ok := s.files[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "No such File object: "+id)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) createAssistant(w http.ResponseWriter, r *http.Request) {
	var req openai.AssistantRequest
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	id := s.nextID("asst")
	s.assistants[id] = req
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, openai.Assistant{ID: id, Model: req.Model})
}

func (s *Server) deleteAssistant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assistants[id]; !ok {
		writeError(w, http.StatusNotFound, "No assistant found with id '"+id+"'.")
		return
	}
	delete(s.assistants, id)
	s.deleted = append(s.deleted, id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Messages []openai.ThreadMessage `json:"messages"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID("thread")
	var msgs []openai.Message
	for _, m := range body.Messages {
		msgs = append(msgs, openai.Message{
			ID:      s.nextID("msg"),
			Role:    m.Role,
			Content: []openai.MessageContent{{Type: "text", Text: &openai.MessageText{Value: m.Content}}},
		})
	}
	s.threads[id] = msgs
	writeJSON(w, http.StatusOK, openai.Thread{ID: id})
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	tid := chi.URLParam(r, "tid")
	var body struct {
		AssistantID string `json:"assistant_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[tid]; !ok {
		writeError(w, http.StatusNotFound, "No thread found with id '"+tid+"'.")
		return
	}
	rs := &runState{run: openai.Run{ID: s.nextID("run"), ThreadID: tid, AssistantID: body.AssistantID, Status: "queued"}}
	s.runs[rs.run.ID] = rs
	writeJSON(w, http.StatusOK, rs.run)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.runs[chi.URLParam(r, "rid")]
	if !ok || rs.run.ThreadID != chi.URLParam(r, "tid") {
		writeError(w, http.StatusNotFound, "No run found.")
		return
	}
	rs.polls++
	if rs.run.Status == "queued" || rs.run.Status == "in_progress" {
		rs.run.Status = "in_progress"
		if s.RunPendingPolls >= 0 && rs.polls > s.RunPendingPolls {
			rs.run.Status = s.RunFinalStatus
			rs.run.LastError = s.RunError
			if rs.run.Status == "completed" && s.Answer != "" {
				s.threads[rs.run.ThreadID] = append(s.threads[rs.run.ThreadID], openai.Message{
					ID:      s.nextID("msg"),
					Role:    "assistant",
					RunID:   rs.run.ID,
					Content: []openai.MessageContent{{Type: "text", Text: &openai.MessageText{Value: s.Answer}}},
				})
			}
		}
	}
	writeJSON(w, http.StatusOK, rs.run)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.runs[chi.URLParam(r, "rid")]
	if !ok {
		writeError(w, http.StatusNotFound, "No run found.")
		return
	}
	rs.run.Status = "cancelling"
	s.cancelled = append(s.cancelled, rs.run.ID)
	writeJSON(w, http.StatusOK, rs.run)
}

// listMessages returns messages newest first, like order=desc.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	tid := chi.URLParam(r, "tid")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	s.mu.Lock()
	msgs, ok := s.threads[tid]
	msgs = slices.Clone(msgs)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "No thread found with id '"+tid+"'.")
		return
	}
	if r.URL.Query().Get("order") != "asc" {
		slices.Reverse(msgs)
	}
	hasMore := false
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
		hasMore = true
	}
	if msgs == nil {
		msgs = []openai.Message{}
	}
	writeJSON(w, http.StatusOK, openai.MessageList{Data: msgs, HasMore: hasMore})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": msg, "type": "invalid_request_error"},
	})
}
