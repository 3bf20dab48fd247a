package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// CreateAssistant creates an assistant.
func (c *Client) CreateAssistant(ctx context.Context, req AssistantRequest) (Assistant, error) {
	var a Assistant
	if err := c.doJSON(ctx, http.MethodPost, "/assistants", req, &a); err != nil {
		return Assistant{}, fmt.Errorf("creating assistant: %w", err)
	}
	return a, nil
}

// DeleteAssistant removes an assistant.
func (c *Client) DeleteAssistant(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/assistants/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("deleting assistant %s: %w", id, err)
	}
	return nil
}

// CreateThread creates a thread seeded with the given messages.
func (c *Client) CreateThread(ctx context.Context, messages []ThreadMessage) (Thread, error) {
	var t Thread
	body := map[string]any{"messages": messages}
	if err := c.doJSON(ctx, http.MethodPost, "/threads", body, &t); err != nil {
		return Thread{}, fmt.Errorf("creating thread: %w", err)
	}
	return t, nil
}

// CreateRun starts a run of the assistant on the thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	var r Run
	body := map[string]string{"assistant_id": assistantID}
	path := "/threads/" + url.PathEscape(threadID) + "/runs"
	if err := c.doJSON(ctx, http.MethodPost, path, body, &r); err != nil {
		return Run{}, fmt.Errorf("creating run: %w", err)
	}
	return r, nil
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	var r Run
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &r); err != nil {
		return Run{}, fmt.Errorf("getting run %s: %w", runID, err)
	}
	return r, nil
}

// CancelRun asks the service to stop a run. The run moves to "cancelling"
// and eventually "cancelled"; the caller is not required to wait for it.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) (Run, error) {
	var r Run
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) + "/cancel"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &r); err != nil {
		return Run{}, fmt.Errorf("cancelling run %s: %w", runID, err)
	}
	return r, nil
}

// ListMessages returns a page of thread messages.
func (c *Client) ListMessages(ctx context.Context, threadID string, opts ListOptions) (MessageList, error) {
	var list MessageList
	path := "/threads/" + url.PathEscape(threadID) + "/messages" + opts.query()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return MessageList{}, fmt.Errorf("listing messages: %w", err)
	}
	return list, nil
}
