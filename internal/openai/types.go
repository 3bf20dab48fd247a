package openai

// VectorStore is a server-side searchable collection of files.
type VectorStore struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// VectorStoreFile is one membership entry of a vector store. Its ID is the
// underlying file ID.
type VectorStoreFile struct {
	ID            string `json:"id"`
	VectorStoreID string `json:"vector_store_id"`
	Status        string `json:"status"`
}

// VectorStoreFilePage is a single page of GET /vector_stores/{id}/files.
type VectorStoreFilePage struct {
	Data    []VectorStoreFile `json:"data"`
	FirstID string            `json:"first_id"`
	LastID  string            `json:"last_id"`
	HasMore bool              `json:"has_more"`
}

// File is an uploaded object in the file store.
type File struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Bytes     int64  `json:"bytes"`
	Purpose   string `json:"purpose"`
	CreatedAt int64  `json:"created_at"`
}

// FileBatch attaches a set of files to a vector store asynchronously.
type FileBatch struct {
	ID            string         `json:"id"`
	VectorStoreID string         `json:"vector_store_id"`
	Status        string         `json:"status"`
	FileCounts    FileBatchCount `json:"file_counts"`
}

// FileBatchCount reports per-state counts inside a batch.
type FileBatchCount struct {
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// Assistant is the short-lived agent bound to a vector store.
type Assistant struct {
	ID    string `json:"id"`
	Model string `json:"model"`
}

// AssistantRequest is the body of POST /assistants.
type AssistantRequest struct {
	Name          string         `json:"name,omitempty"`
	Model         string         `json:"model"`
	Instructions  string         `json:"instructions,omitempty"`
	Tools         []Tool         `json:"tools"`
	ToolResources *ToolResources `json:"tool_resources,omitempty"`
}

// Tool enables a capability on an assistant.
type Tool struct {
	Type string `json:"type"`
}

// ToolResources binds tools to remote resources.
type ToolResources struct {
	FileSearch *FileSearchResources `json:"file_search,omitempty"`
}

// FileSearchResources names the vector stores searched by file_search.
type FileSearchResources struct {
	VectorStoreIDs []string `json:"vector_store_ids"`
}

// Thread is a conversation container.
type Thread struct {
	ID string `json:"id"`
}

// ThreadMessage seeds a new thread.
type ThreadMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Run is an asynchronous answer-producing job on a thread.
type Run struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"thread_id"`
	AssistantID string    `json:"assistant_id"`
	Status      string    `json:"status"`
	LastError   *RunError `json:"last_error"`

	// IncompleteDetails explains a run that ended "incomplete".
	IncompleteDetails *IncompleteDetails `json:"incomplete_details"`
}

// IncompleteDetails carries the reason a run stopped early, such as
// "max_prompt_tokens".
type IncompleteDetails struct {
	Reason string `json:"reason"`
}

// RunError is the diagnostic attached to a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Detail renders the run diagnostic, or "" when none was reported. A run
// without last_error falls back to its incomplete_details reason.
func (r Run) Detail() string {
	if r.LastError == nil {
		if r.IncompleteDetails != nil && r.IncompleteDetails.Reason != "" {
			return "incomplete: " + r.IncompleteDetails.Reason
		}
		return ""
	}
	if r.LastError.Code == "" {
		return r.LastError.Message
	}
	return r.LastError.Code + ": " + r.LastError.Message
}

// Message is a thread message.
type Message struct {
	ID      string           `json:"id"`
	Role    string           `json:"role"`
	RunID   string           `json:"run_id"`
	Content []MessageContent `json:"content"`
}

// MessageContent is one content segment of a message.
type MessageContent struct {
	Type string       `json:"type"`
	Text *MessageText `json:"text,omitempty"`
}

// MessageText is the payload of a "text" content segment.
type MessageText struct {
	Value string `json:"value"`
}

// MessageList is a page of GET /threads/{id}/messages.
type MessageList struct {
	Data    []Message `json:"data"`
	HasMore bool      `json:"has_more"`
}

// ListOptions pages list endpoints.
type ListOptions struct {
	Limit int
	After string
	Order string
}
