package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// GetVectorStore fetches a vector store. A missing store yields an error
// matching ErrNotFound.
func (c *Client) GetVectorStore(ctx context.Context, id string) (VectorStore, error) {
	var vs VectorStore
	if err := c.doJSON(ctx, http.MethodGet, "/vector_stores/"+url.PathEscape(id), nil, &vs); err != nil {
		return VectorStore{}, fmt.Errorf("getting vector store %s: %w", id, err)
	}
	return vs, nil
}

// CreateVectorStore creates an empty vector store with the given name.
func (c *Client) CreateVectorStore(ctx context.Context, name string) (VectorStore, error) {
	var vs VectorStore
	body := map[string]string{"name": name}
	if err := c.doJSON(ctx, http.MethodPost, "/vector_stores", body, &vs); err != nil {
		return VectorStore{}, fmt.Errorf("creating vector store: %w", err)
	}
	return vs, nil
}

// ListVectorStoreFiles returns one page of a vector store's file membership.
func (c *Client) ListVectorStoreFiles(ctx context.Context, storeID string, opts ListOptions) (VectorStoreFilePage, error) {
	path := "/vector_stores/" + url.PathEscape(storeID) + "/files" + opts.query()

	var page VectorStoreFilePage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return VectorStoreFilePage{}, fmt.Errorf("listing files of vector store %s: %w", storeID, err)
	}
	return page, nil
}

// CreateFileBatch attaches already uploaded files to a vector store.
func (c *Client) CreateFileBatch(ctx context.Context, storeID string, fileIDs []string) (FileBatch, error) {
	var batch FileBatch
	body := map[string][]string{"file_ids": fileIDs}
	path := "/vector_stores/" + url.PathEscape(storeID) + "/file_batches"
	if err := c.doJSON(ctx, http.MethodPost, path, body, &batch); err != nil {
		return FileBatch{}, fmt.Errorf("creating file batch: %w", err)
	}
	return batch, nil
}

// GetFileBatch fetches the current state of a file batch.
func (c *Client) GetFileBatch(ctx context.Context, storeID, batchID string) (FileBatch, error) {
	var batch FileBatch
	path := "/vector_stores/" + url.PathEscape(storeID) + "/file_batches/" + url.PathEscape(batchID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &batch); err != nil {
		return FileBatch{}, fmt.Errorf("getting file batch %s: %w", batchID, err)
	}
	return batch, nil
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.After != "" {
		q.Set("after", o.After)
	}
	if o.Order != "" {
		q.Set("order", o.Order)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
