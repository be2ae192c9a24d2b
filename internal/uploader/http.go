// internal/uploader/http.go
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"audiotricks-service/internal/domain/upload"
)

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.Code, e.Message)
}

// retryable reports whether another attempt could succeed. Client errors
// other than 408 and 429 will not change on retry.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusRequestTimeout ||
			se.Code == http.StatusTooManyRequests ||
			se.Code >= http.StatusInternalServerError
	}
	return true
}

// HTTPTransport calls the upload endpoints with a bearer token.
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (t *HTTPTransport) Single(ctx context.Context, workspaceID int64, f *File, body io.Reader) (*upload.Upload, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	req, err := t.newRequest(ctx, http.MethodPost, "/api/upload/single", mw.FormDataContentType(), pr, -1)
	if err != nil {
		pr.Close()
		return nil, err
	}

	// The writer only runs once a request exists to drain the pipe.
	go func() {
		err := func() error {
			if err := mw.WriteField("workspace_id", strconv.FormatInt(workspaceID, 10)); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("file", f.Name)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, body); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	var u upload.Upload
	if err := t.send(req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *HTTPTransport) Initialize(ctx context.Context, req *upload.InitializeRequest) (*upload.InitializeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	var out upload.InitializeResponse
	if err := t.do(ctx, http.MethodPost, "/api/upload/initialize", "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (t *HTTPTransport) PutPart(ctx context.Context, uploadID string, partNumber int, body io.Reader, size int64) (*upload.PartResponse, error) {
	path := fmt.Sprintf("/api/upload/%s/chunk?part_number=%d", url.PathEscape(uploadID), partNumber)
	var out upload.PartResponse
	if err := t.doSized(ctx, http.MethodPut, path, "application/octet-stream", body, size, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (t *HTTPTransport) Complete(ctx context.Context, uploadID string, parts []upload.PartDescriptor) (*upload.Upload, error) {
	body, err := json.Marshal(upload.CompleteRequest{Parts: parts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	var u upload.Upload
	path := fmt.Sprintf("/api/upload/%s/complete", url.PathEscape(uploadID))
	if err := t.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *HTTPTransport) Abort(ctx context.Context, uploadID string) error {
	return t.do(ctx, http.MethodDelete, "/api/upload/"+url.PathEscape(uploadID), "", nil, nil)
}

func (t *HTTPTransport) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	return t.doSized(ctx, method, path, contentType, body, -1, out)
}

func (t *HTTPTransport) doSized(ctx context.Context, method, path, contentType string, body io.Reader, size int64, out interface{}) error {
	req, err := t.newRequest(ctx, method, path, contentType, body, size)
	if err != nil {
		return err
	}
	return t.send(req, out)
}

func (t *HTTPTransport) newRequest(ctx context.Context, method, path, contentType string, body io.Reader, size int64) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if size >= 0 {
		req.ContentLength = size
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	return req, nil
}

func (t *HTTPTransport) send(req *http.Request, out interface{}) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if env.Error != "" {
			msg = msg + ": " + env.Error
		}
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
