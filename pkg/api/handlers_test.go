package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/torrin/pkg/upload"
	"github.com/marmos91/torrin/pkg/upload/driver/local"
	"github.com/marmos91/torrin/pkg/upload/store/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	driver, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	service := upload.NewService(store, driver, upload.Config{})
	server := httptest.NewServer(NewRouter(service, ""))
	t.Cleanup(server.Close)
	return server
}

func initUpload(t *testing.T, server *httptest.Server, body string) *upload.Session {
	t.Helper()

	resp, err := http.Post(server.URL+"/torrin/uploads", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session upload.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	return &session
}

func putChunk(t *testing.T, server *httptest.Server, uploadID string, index int, body []byte, hash string) *http.Response {
	t.Helper()

	url := fmt.Sprintf("%s/torrin/uploads/%s/chunks/%d", server.URL, uploadID, index)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.ContentLength = int64(len(body))
	if hash != "" {
		req.Header.Set(ChunkHashHeader, hash)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorPayload {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestInitEndpoint(t *testing.T) {
	server := newTestServer(t)

	session := initUpload(t, server, `{"fileName":"report.pdf","fileSize":2500000}`)
	assert.True(t, strings.HasPrefix(session.UploadID, "u_"))
	assert.Equal(t, int64(1_000_000), session.ChunkSize)
	assert.Equal(t, 3, session.TotalChunks)
	assert.Equal(t, upload.StatusPending, session.Status)
}

func TestInitEndpointValidation(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing file size", `{"fileName":"a.txt"}`},
		{"zero file size", `{"fileSize":0}`},
		{"negative file size", `{"fileSize":-5}`},
		{"malformed JSON", `{"fileSize":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+"/torrin/uploads", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, upload.CodeInvalidRequest, decodeError(t, resp).Code)
		})
	}
}

func TestChunkAndCompleteFlow(t *testing.T) {
	server := newTestServer(t)
	session := initUpload(t, server, `{"fileName":"data.bin","fileSize":2500000}`)

	chunks := [][]byte{
		bytes.Repeat([]byte{'a'}, 1_000_000),
		bytes.Repeat([]byte{'b'}, 1_000_000),
		bytes.Repeat([]byte{'c'}, 500_000),
	}
	for _, index := range []int{2, 0, 1} {
		resp := putChunk(t, server, session.UploadID, index, chunks[index], "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp, err := http.Get(fmt.Sprintf("%s/torrin/uploads/%s/status", server.URL, session.UploadID))
	require.NoError(t, err)
	var status upload.UploadStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, []int{0, 1, 2}, status.ReceivedChunks)
	assert.Empty(t, status.MissingChunks)

	resp, err = http.Post(
		fmt.Sprintf("%s/torrin/uploads/%s/complete", server.URL, session.UploadID),
		"application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result upload.CompleteResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, upload.StatusCompleted, result.Status)
	require.NotNil(t, result.Location)
	assert.Equal(t, "local", result.Location.Type)
}

func TestWireBodyKeys(t *testing.T) {
	server := newTestServer(t)

	// The requested chunk size rides under "desiredChunkSize".
	session := initUpload(t, server, `{"fileName":"data.bin","fileSize":1500000,"desiredChunkSize":500000}`)
	assert.Equal(t, int64(500_000), session.ChunkSize)
	assert.Equal(t, 3, session.TotalChunks)

	resp := putChunk(t, server, session.UploadID, 1, bytes.Repeat([]byte{'b'}, 500_000), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var chunkBody struct {
		UploadID      string        `json:"uploadId"`
		ReceivedIndex *int          `json:"receivedIndex"`
		Status        upload.Status `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chunkBody))
	resp.Body.Close()
	assert.Equal(t, session.UploadID, chunkBody.UploadID)
	require.NotNil(t, chunkBody.ReceivedIndex)
	assert.Equal(t, 1, *chunkBody.ReceivedIndex)
	assert.Equal(t, upload.StatusInProgress, chunkBody.Status)

	for _, index := range []int{0, 2} {
		resp := putChunk(t, server, session.UploadID, index, bytes.Repeat([]byte{'a'}, 500_000), "")
		resp.Body.Close()
	}

	// The whole-file digest rides under "hash" and is advisory.
	resp, err := http.Post(
		fmt.Sprintf("%s/torrin/uploads/%s/complete", server.URL, session.UploadID),
		"application/json", strings.NewReader(`{"hash":"deadbeef"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChunkEndpointErrors(t *testing.T) {
	server := newTestServer(t)
	session := initUpload(t, server, `{"fileSize":2500000}`)

	t.Run("unknown upload", func(t *testing.T) {
		resp := putChunk(t, server, "u_missing", 0, []byte("x"), "")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, upload.CodeUploadNotFound, decodeError(t, resp).Code)
	})

	t.Run("index out of range", func(t *testing.T) {
		resp := putChunk(t, server, session.UploadID, 3, bytes.Repeat([]byte{'x'}, 1_000_000), "")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, upload.CodeChunkOutOfRange, decodeError(t, resp).Code)
	})

	t.Run("non-numeric index", func(t *testing.T) {
		url := fmt.Sprintf("%s/torrin/uploads/%s/chunks/abc", server.URL, session.UploadID)
		req, err := http.NewRequest(http.MethodPut, url, strings.NewReader("x"))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, upload.CodeInvalidRequest, decodeError(t, resp).Code)
	})

	t.Run("size mismatch carries details", func(t *testing.T) {
		resp := putChunk(t, server, session.UploadID, 2, bytes.Repeat([]byte{'x'}, 1_000_000), "")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		payload := decodeError(t, resp)
		assert.Equal(t, upload.CodeChunkSizeMismatch, payload.Code)
		assert.EqualValues(t, 500_000, payload.Details["expected"])
		assert.EqualValues(t, 1_000_000, payload.Details["actual"])
	})

	t.Run("hash mismatch", func(t *testing.T) {
		resp := putChunk(t, server, session.UploadID, 0, bytes.Repeat([]byte{'x'}, 1_000_000),
			"0000000000000000000000000000000000000000000000000000000000000000")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, upload.CodeChunkHashMismatch, decodeError(t, resp).Code)
	})
}

func TestCompleteMissingChunks(t *testing.T) {
	server := newTestServer(t)
	session := initUpload(t, server, `{"fileSize":2500000}`)

	resp := putChunk(t, server, session.UploadID, 0, bytes.Repeat([]byte{'a'}, 1_000_000), "")
	resp.Body.Close()
	resp = putChunk(t, server, session.UploadID, 2, bytes.Repeat([]byte{'c'}, 500_000), "")
	resp.Body.Close()

	resp, err := http.Post(
		fmt.Sprintf("%s/torrin/uploads/%s/complete", server.URL, session.UploadID),
		"application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	payload := decodeError(t, resp)
	assert.Equal(t, upload.CodeMissingChunks, payload.Code)
	assert.Equal(t, []any{float64(1)}, payload.Details["missingChunks"])
}

func TestCancelEndpoint(t *testing.T) {
	server := newTestServer(t)
	session := initUpload(t, server, `{"fileSize":100}`)

	del := func(id string) *http.Response {
		req, err := http.NewRequest(http.MethodDelete,
			fmt.Sprintf("%s/torrin/uploads/%s", server.URL, id), nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := del(session.UploadID)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Canceling again is a no-op success.
	resp = del(session.UploadID)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Unknown ids are 404.
	resp = del("u_unknown")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	server := newTestServer(t)

	for _, path := range []string{"/health", "/health/ready"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
