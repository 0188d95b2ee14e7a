package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/torrin/internal/logger"
	"github.com/marmos91/torrin/pkg/upload"
)

// UploadStatus is the client-side lifecycle state of an Upload.
type UploadStatus string

const (
	StatusIdle         UploadStatus = "idle"
	StatusInitializing UploadStatus = "initializing"
	StatusUploading    UploadStatus = "uploading"
	StatusPaused       UploadStatus = "paused"
	StatusCompleting   UploadStatus = "completing"
	StatusCompleted    UploadStatus = "completed"
	StatusFailed       UploadStatus = "failed"
	StatusCanceled     UploadStatus = "canceled"
)

// Concurrency bounds for the chunk pump.
const (
	DefaultMaxConcurrency = 3
	MaxConcurrency        = 10
)

// stateSaveInterval is how many accepted chunks pass between resume-state
// saves.
const stateSaveInterval = 10

// FileInfo describes the file being uploaded.
type FileInfo struct {
	Name         string
	Size         int64
	LastModified time.Time
}

// Key identifies the file for resume discovery: same name, size and
// modification time means same upload.
func (f FileInfo) Key() string {
	return fmt.Sprintf("%s-%d-%d", f.Name, f.Size, f.LastModified.UnixMilli())
}

// Options configures an Upload.
type Options struct {
	// ChunkSize is the desired chunk size; the server may clamp it.
	ChunkSize int64

	// MaxConcurrency bounds parallel chunk PUTs. Default 3, capped at 10.
	MaxConcurrency int

	// Retry is the per-chunk retry policy.
	Retry RetryPolicy

	// ResumeStore, when set, persists state for cross-process resume.
	ResumeStore ResumeStore

	// MimeType and Metadata are forwarded to session creation.
	MimeType string
	Metadata map[string]string

	// ChunkHashes computes a sha256 digest per chunk and sends it in the
	// integrity header.
	ChunkHashes bool
}

// Upload drives one resumable file upload: session discovery or creation,
// the bounded-concurrency chunk pump, pause/resume, cancel, and completion.
//
// An Upload is single-shot: create one per file and call Start once.
type Upload struct {
	client *Client
	reader io.ReaderAt
	file   FileInfo
	opts   Options

	events *emitter
	gate   *latch

	mu            sync.Mutex
	status        UploadStatus
	uploadID      string
	chunkSize     int64
	totalChunks   int
	received      map[int]bool
	bytesUploaded int64
	lastChunk     int
	chunksUnsaved int
	cancelPump    context.CancelFunc
	canceled      bool
}

// NewUpload creates an upload for the file backed by reader.
func NewUpload(c *Client, reader io.ReaderAt, file FileInfo, opts Options) *Upload {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.MaxConcurrency > MaxConcurrency {
		opts.MaxConcurrency = MaxConcurrency
	}
	opts.Retry = opts.Retry.applyDefaults()

	return &Upload{
		client:   c,
		reader:   reader,
		file:     file,
		opts:     opts,
		events:   newEmitter(),
		gate:     newLatch(),
		status:   StatusIdle,
		received: make(map[int]bool),
	}
}

// OnProgress registers a progress listener. Returns unsubscribe.
func (u *Upload) OnProgress(fn ProgressListener) func() { return u.events.onProgress(fn) }

// OnStatus registers a status transition listener. Returns unsubscribe.
func (u *Upload) OnStatus(fn StatusListener) func() { return u.events.onStatus(fn) }

// OnError registers an error listener. Returns unsubscribe.
func (u *Upload) OnError(fn ErrorListener) func() { return u.events.onError(fn) }

// Status returns the current lifecycle state.
func (u *Upload) Status() UploadStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

// UploadID returns the server session id, empty before initialization.
func (u *Upload) UploadID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.uploadID
}

// Progress returns the current progress snapshot.
func (u *Upload) Progress() ProgressEvent {
	u.mu.Lock()
	defer u.mu.Unlock()
	return ProgressEvent{
		UploadID:        u.uploadID,
		ChunkIndex:      u.lastChunk,
		BytesUploaded:   u.bytesUploaded,
		TotalBytes:      u.file.Size,
		Percent:         upload.ProgressPercent(u.bytesUploaded, u.file.Size),
		ChunksCompleted: len(u.received),
		TotalChunks:     u.totalChunks,
	}
}

// Pause gates new chunk sends. In-flight chunks finish; nothing new starts
// until Resume.
func (u *Upload) Pause() {
	u.gate.pause()
	u.transition(StatusUploading, StatusPaused)
}

// Resume reopens the gate after Pause.
func (u *Upload) Resume() {
	u.gate.resume()
	u.transition(StatusPaused, StatusUploading)
}

// Cancel aborts the upload: stops the pump, deletes the server session
// (tolerating its absence) and evicts the resume state.
func (u *Upload) Cancel(ctx context.Context) error {
	u.mu.Lock()
	if u.status == StatusCompleted {
		u.mu.Unlock()
		return upload.ErrAlreadyCompleted(u.uploadID)
	}
	u.canceled = true
	uploadID := u.uploadID
	cancelPump := u.cancelPump
	u.mu.Unlock()

	if cancelPump != nil {
		cancelPump()
	}
	// A paused pump is parked on the gate; release it so it can exit.
	u.gate.resume()

	u.setStatus(StatusCanceled)

	if uploadID != "" {
		if err := u.client.Cancel(ctx, uploadID); err != nil {
			return err
		}
	}
	u.evictState()
	return nil
}

// Start runs the upload to completion: discover or create the session, pump
// the missing chunks, then finalize. Blocks until completed, failed or
// canceled.
func (u *Upload) Start(ctx context.Context) error {
	u.setStatus(StatusInitializing)

	if err := u.prepareSession(ctx); err != nil {
		return u.fail(err)
	}

	u.setStatus(StatusUploading)

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	u.mu.Lock()
	u.cancelPump = cancel
	u.mu.Unlock()

	if err := u.pump(pumpCtx); err != nil {
		if u.isCanceled() {
			return upload.ErrCanceled(u.UploadID())
		}
		return u.fail(err)
	}
	if u.isCanceled() {
		return upload.ErrCanceled(u.UploadID())
	}

	u.setStatus(StatusCompleting)

	// Finalize is not retried: a repeated complete against an already
	// assembled artifact reads as ALREADY_COMPLETED and would mask the
	// first response.
	result, err := u.client.Complete(ctx, u.UploadID(), "")
	if err != nil {
		return u.fail(err)
	}

	u.setStatus(StatusCompleted)
	u.evictState()

	logger.Info("upload completed",
		"upload_id", result.UploadID,
		"file_size", result.FileSize,
	)
	return nil
}

// prepareSession resumes a known session or creates a new one, seeding the
// received set and byte counter from the server's record.
func (u *Upload) prepareSession(ctx context.Context) error {
	if state := u.loadState(); state != nil {
		status, err := u.client.Status(ctx, state.UploadID)
		if err == nil && status.Status != upload.StatusCompleted && status.Status != upload.StatusCanceled {
			u.adoptSession(status.UploadID, status.ChunkSize, status.TotalChunks, status.ReceivedChunks)
			logger.Info("resuming upload",
				"upload_id", status.UploadID,
				"received_chunks", len(status.ReceivedChunks),
				"total_chunks", status.TotalChunks,
			)
			return nil
		}
		// Session gone or terminal on the server; the stored state is dead.
		u.evictState()
	}

	session, err := u.client.Init(ctx, InitRequest{
		FileName:         u.file.Name,
		FileSize:         u.file.Size,
		MimeType:         u.opts.MimeType,
		Metadata:         u.opts.Metadata,
		DesiredChunkSize: u.opts.ChunkSize,
	})
	if err != nil {
		return err
	}

	u.adoptSession(session.UploadID, session.ChunkSize, session.TotalChunks, nil)
	u.saveState()
	return nil
}

// adoptSession takes the server's view of the session as authoritative.
func (u *Upload) adoptSession(uploadID string, chunkSize int64, totalChunks int, receivedChunks []int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.uploadID = uploadID
	u.chunkSize = chunkSize
	u.totalChunks = totalChunks
	u.received = make(map[int]bool, len(receivedChunks))
	u.bytesUploaded = 0
	for _, index := range receivedChunks {
		u.received[index] = true
		u.bytesUploaded += upload.ExpectedChunkSize(index, totalChunks, u.file.Size, chunkSize)
	}
}

// pump sends every missing chunk with bounded concurrency. The first error
// stops new sends; in-flight chunks drain before it is returned.
func (u *Upload) pump(ctx context.Context) error {
	u.mu.Lock()
	totalChunks := u.totalChunks
	chunkSize := u.chunkSize
	u.mu.Unlock()

	semaphore := make(chan struct{}, u.opts.MaxConcurrency)
	var wg sync.WaitGroup

	var errMu sync.Mutex
	var firstErr error
	setErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}
	hasErr := func() bool {
		errMu.Lock()
		defer errMu.Unlock()
		return firstErr != nil
	}

	for index := 0; index < totalChunks; index++ {
		u.mu.Lock()
		done := u.received[index]
		u.mu.Unlock()
		if done {
			continue
		}

		// Pause checkpoint before taking a slot.
		if err := u.gate.wait(ctx); err != nil {
			break
		}
		if hasErr() {
			break
		}

		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			setErr(ctx.Err())
		}
		if hasErr() {
			break
		}

		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			defer func() { <-semaphore }()

			// Second checkpoint: a pause issued after slot acquisition
			// still holds this chunk back.
			if err := u.gate.wait(ctx); err != nil {
				setErr(err)
				return
			}

			size := upload.ExpectedChunkSize(index, totalChunks, u.file.Size, chunkSize)
			if err := u.sendChunk(ctx, index, size); err != nil {
				u.events.emitError(err)
				setErr(err)
				return
			}

			u.recordChunk(index, size)
		}(index)
	}

	wg.Wait()
	u.saveState()

	errMu.Lock()
	defer errMu.Unlock()
	return firstErr
}

// sendChunk reads one chunk from the file and PUTs it with retry.
func (u *Upload) sendChunk(ctx context.Context, index int, size int64) error {
	offset := int64(index) * u.chunkSizeLocked()
	buf := make([]byte, size)
	if _, err := u.reader.ReadAt(buf, offset); err != nil {
		return upload.NewError(upload.CodeInternalError,
			fmt.Sprintf("failed to read chunk %d: %v", index, err))
	}

	var hash string
	if u.opts.ChunkHashes {
		sum := sha256.Sum256(buf)
		hash = hex.EncodeToString(sum[:])
	}

	uploadID := u.UploadID()
	return withRetry(ctx, u.opts.Retry, fmt.Sprintf("chunk %d", index), u.gate, func() error {
		return u.client.PutChunk(ctx, uploadID, index, buf, hash)
	})
}

// recordChunk marks a chunk accepted, emits progress, and snapshots resume
// state every stateSaveInterval accepted chunks.
func (u *Upload) recordChunk(index int, size int64) {
	u.mu.Lock()
	u.received[index] = true
	u.bytesUploaded += size
	u.lastChunk = index
	u.chunksUnsaved++
	save := u.chunksUnsaved >= stateSaveInterval
	if save {
		u.chunksUnsaved = 0
	}
	event := ProgressEvent{
		UploadID:        u.uploadID,
		ChunkIndex:      index,
		BytesUploaded:   u.bytesUploaded,
		TotalBytes:      u.file.Size,
		Percent:         upload.ProgressPercent(u.bytesUploaded, u.file.Size),
		ChunksCompleted: len(u.received),
		TotalChunks:     u.totalChunks,
	}
	u.mu.Unlock()

	if save {
		u.saveState()
	}
	u.events.emitProgress(event)
}

func (u *Upload) chunkSizeLocked() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.chunkSize
}

func (u *Upload) isCanceled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.canceled
}

// fail transitions to failed (unless canceled) and returns err.
func (u *Upload) fail(err error) error {
	if u.isCanceled() {
		return upload.ErrCanceled(u.UploadID())
	}
	u.setStatus(StatusFailed)
	u.events.emitError(err)
	return err
}

// setStatus moves to the new status unconditionally, emitting the
// transition.
func (u *Upload) setStatus(status UploadStatus) {
	u.mu.Lock()
	old := u.status
	u.status = status
	u.mu.Unlock()

	if old != status {
		u.events.emitStatus(old, status)
	}
}

// transition moves from one specific status to another, doing nothing when
// the current status differs.
func (u *Upload) transition(from, to UploadStatus) {
	u.mu.Lock()
	if u.status != from {
		u.mu.Unlock()
		return
	}
	u.status = to
	u.mu.Unlock()

	u.events.emitStatus(from, to)
}

// loadState fetches resume state for the file, nil when unavailable.
func (u *Upload) loadState() *UploadState {
	if u.opts.ResumeStore == nil {
		return nil
	}
	state, err := u.opts.ResumeStore.Load(u.file.Key())
	if err != nil {
		logger.Warn("failed to load resume state", "file", u.file.Name, "error", err)
		return nil
	}
	if state != nil && (state.FileSize != u.file.Size || state.FileKey != u.file.Key()) {
		return nil
	}
	return state
}

// saveState snapshots progress into the resume store, best effort.
func (u *Upload) saveState() {
	if u.opts.ResumeStore == nil {
		return
	}

	u.mu.Lock()
	if u.uploadID == "" {
		u.mu.Unlock()
		return
	}
	received := make([]int, 0, len(u.received))
	for index := range u.received {
		received = append(received, index)
	}
	state := &UploadState{
		UploadID:       u.uploadID,
		FileKey:        u.file.Key(),
		FileName:       u.file.Name,
		FileSize:       u.file.Size,
		ChunkSize:      u.chunkSize,
		TotalChunks:    u.totalChunks,
		ReceivedChunks: upload.SortedChunks(received),
		UpdatedAt:      time.Now().UTC(),
	}
	u.mu.Unlock()

	if err := u.opts.ResumeStore.Save(state); err != nil {
		logger.Warn("failed to save resume state", "upload_id", state.UploadID, "error", err)
	}
}

// evictState drops the resume record, best effort.
func (u *Upload) evictState() {
	if u.opts.ResumeStore == nil {
		return
	}
	if err := u.opts.ResumeStore.Delete(u.file.Key()); err != nil {
		logger.Warn("failed to delete resume state", "file", u.file.Name, "error", err)
	}
}
