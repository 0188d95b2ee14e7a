package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/marmos91/torrin/pkg/upload"
)

// ChunkHashHeader carries the optional client-side sha256 hex digest of a
// chunk body.
const ChunkHashHeader = "X-Torrin-Chunk-Hash"

// UploadHandler serves the upload wire protocol over an upload.Service.
type UploadHandler struct {
	service  *upload.Service
	validate *validator.Validate
}

// NewUploadHandler creates the handler.
func NewUploadHandler(service *upload.Service) *UploadHandler {
	return &UploadHandler{
		service:  service,
		validate: validator.New(),
	}
}

// initRequest is the POST {basePath} body.
type initRequest struct {
	FileName         string            `json:"fileName"`
	FileSize         int64             `json:"fileSize" validate:"required,gt=0"`
	MimeType         string            `json:"mimeType"`
	Metadata         map[string]string `json:"metadata"`
	DesiredChunkSize int64             `json:"desiredChunkSize" validate:"omitempty,gt=0"`
}

// completeRequest is the POST {basePath}/{uploadID}/complete body. The body
// is optional; Hash is advisory.
type completeRequest struct {
	Hash string `json:"hash"`
}

// Init creates a new upload session. Responds 201 with the session record.
func (h *UploadHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, upload.ErrInvalidRequest("invalid JSON body: "+err.Error()))
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		writeError(w, upload.ErrInvalidRequest("invalid init request: "+err.Error()))
		return
	}

	session, err := h.service.InitUpload(r.Context(), upload.InitInput{
		FileName:         req.FileName,
		FileSize:         req.FileSize,
		MimeType:         req.MimeType,
		Metadata:         req.Metadata,
		DesiredChunkSize: req.DesiredChunkSize,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// Chunk accepts one raw chunk body. Content-Length is required so the
// service can validate the exact chunk size before the body is consumed.
func (h *UploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, upload.ErrInvalidRequest("chunk index must be a non-negative integer"))
		return
	}

	if r.ContentLength < 0 {
		writeError(w, upload.ErrInvalidRequest("Content-Length header is required"))
		return
	}

	err = h.service.HandleChunk(r.Context(), upload.ChunkInput{
		UploadID: uploadID,
		Index:    index,
		Size:     r.ContentLength,
		Hash:     r.Header.Get(ChunkHashHeader),
		Body:     r.Body,
	})
	if err != nil {
		// Drain so the connection can be reused after an early rejection.
		_, _ = io.Copy(io.Discard, r.Body)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uploadId":      uploadID,
		"receivedIndex": index,
		"status":        upload.StatusInProgress,
	})
}

// Status returns the session status with received and missing chunk sets.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetStatus(r.Context(), chi.URLParam(r, "uploadID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Complete finalizes the upload. The request body is optional.
func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, upload.ErrInvalidRequest("invalid JSON body: "+err.Error()))
		return
	}

	result, err := h.service.CompleteUpload(r.Context(), chi.URLParam(r, "uploadID"), req.Hash)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Cancel aborts the upload. Responds 204; canceling an already-canceled
// session is a no-op success.
func (h *UploadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.AbortUpload(r.Context(), chi.URLParam(r, "uploadID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
