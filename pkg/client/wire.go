// Package client implements the Torrin upload client: a thin wire client
// over the upload HTTP protocol plus the resumable Upload state machine
// built on top of it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marmos91/torrin/pkg/upload"
)

// ChunkHashHeader carries the optional sha256 hex digest of a chunk body.
const ChunkHashHeader = "X-Torrin-Chunk-Hash"

// Client is the wire-level Torrin API client. All methods translate error
// response bodies back into typed *upload.Error values, so callers switch on
// upload.ErrorCode regardless of which side produced the failure.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption customizes the wire client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a wire client. baseURL points at the mounted upload
// routes, e.g. "http://localhost:8080/torrin/uploads".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitRequest is the session creation payload.
type InitRequest struct {
	FileName         string            `json:"fileName,omitempty"`
	FileSize         int64             `json:"fileSize"`
	MimeType         string            `json:"mimeType,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	DesiredChunkSize int64             `json:"desiredChunkSize,omitempty"`
}

// Init creates a new upload session.
func (c *Client) Init(ctx context.Context, req InitRequest) (*upload.Session, error) {
	var session upload.Session
	if err := c.do(ctx, http.MethodPost, "", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// PutChunk uploads one raw chunk body. hash, when non-empty, is sent as the
// chunk integrity header.
func (c *Client) PutChunk(ctx context.Context, uploadID string, index int, body []byte, hash string) error {
	url := fmt.Sprintf("%s/%s/chunks/%d", c.baseURL, uploadID, index)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return upload.NewError(upload.CodeInternalError, "failed to create request: "+err.Error())
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	if hash != "" {
		req.Header.Set(ChunkHashHeader, hash)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeWireError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Status fetches the session status with received and missing chunk sets.
func (c *Client) Status(ctx context.Context, uploadID string) (*upload.UploadStatus, error) {
	var status upload.UploadStatus
	if err := c.do(ctx, http.MethodGet, "/"+uploadID+"/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Complete finalizes the upload. fileHash is optional.
func (c *Client) Complete(ctx context.Context, uploadID, fileHash string) (*upload.CompleteResult, error) {
	body := map[string]string{}
	if fileHash != "" {
		body["hash"] = fileHash
	}

	var result upload.CompleteResult
	if err := c.do(ctx, http.MethodPost, "/"+uploadID+"/complete", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel aborts the upload. A 404 is tolerated: the session being gone is
// the outcome cancel wants.
func (c *Client) Cancel(ctx context.Context, uploadID string) error {
	err := c.do(ctx, http.MethodDelete, "/"+uploadID, nil, nil)
	if upload.CodeOf(err) == upload.CodeUploadNotFound {
		return nil
	}
	return err
}

// do performs a JSON request and decodes the response.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return upload.NewError(upload.CodeInternalError, "failed to marshal request body: "+err.Error())
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return upload.NewError(upload.CodeInternalError, "failed to create request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return upload.NewError(upload.CodeNetworkError, "failed to read response body: "+err.Error())
	}

	if resp.StatusCode >= 400 {
		return decodeWireErrorBody(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return upload.NewError(upload.CodeNetworkError, "failed to decode response: "+err.Error())
		}
	}
	return nil
}

// transportError maps transport failures into the error taxonomy.
func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &upload.Error{
			Code:    upload.CodeTimeoutError,
			Message: "request timed out: " + err.Error(),
		}
	}
	return &upload.Error{
		Code:    upload.CodeNetworkError,
		Message: "request failed: " + err.Error(),
	}
}

// decodeWireError parses an error response body back into a typed error.
func decodeWireError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return upload.NewError(upload.CodeNetworkError, "failed to read error body: "+err.Error())
	}
	return decodeWireErrorBody(resp.StatusCode, body)
}

func decodeWireErrorBody(status int, body []byte) error {
	var wire struct {
		Error struct {
			Code    upload.ErrorCode `json:"code"`
			Message string           `json:"message"`
			Details map[string]any   `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error.Code != "" {
		return &upload.Error{
			Code:    wire.Error.Code,
			Message: wire.Error.Message,
			Details: wire.Error.Details,
		}
	}

	// Not a protocol error body: a proxy or middlebox answered.
	return &upload.Error{
		Code:    upload.CodeNetworkError,
		Message: fmt.Sprintf("unexpected response (status %d): %s", status, truncate(string(body), 200)),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
