package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// PurposeAssistants is the upload purpose accepted by file_search.
const PurposeAssistants = "assistants"

// GetFile fetches file metadata, including the original filename.
func (c *Client) GetFile(ctx context.Context, id string) (File, error) {
	var f File
	if err := c.doJSON(ctx, http.MethodGet, "/files/"+url.PathEscape(id), nil, &f); err != nil {
		return File{}, fmt.Errorf("getting file %s: %w", id, err)
	}
	return f, nil
}

// UploadFile uploads raw bytes under the given filename and purpose.
// Uploads are never retried; a failed upload is reported to the caller.
func (c *Client) UploadFile(ctx context.Context, filename string, r io.Reader, purpose string) (File, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", purpose); err != nil {
		return File{}, fmt.Errorf("writing purpose field: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return File{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return File{}, fmt.Errorf("reading %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return File{}, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return File{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	client := *c.httpClient
	client.Timeout = uploadTimeout
	resp, err := client.Do(req)
	if err != nil {
		return File{}, &TransportError{Op: "POST /files", Err: err}
	}
	defer resp.Body.Close()

	var f File
	if err := decodeResponse(resp, &f); err != nil {
		return File{}, fmt.Errorf("uploading %s: %w", filename, err)
	}
	return f, nil
}
