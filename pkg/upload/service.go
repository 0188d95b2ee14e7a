package upload

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/marmos91/torrin/internal/logger"
)

// Config holds configuration for the upload Service.
type Config struct {
	// DefaultChunkSize is used when init requests no desired chunk size.
	// Default: 1 MiB.
	DefaultChunkSize int64

	// TTL is the session lifetime applied at init. Zero selects DefaultTTL;
	// a negative value disables expiry.
	TTL time.Duration

	// Metrics is an optional metrics collector (nil = disabled).
	Metrics Metrics
}

// Service orchestrates the upload protocol over an UploadStore and a
// StorageDriver. It validates inputs, sequences store and driver calls,
// enforces the session state machine, and surfaces typed errors.
//
// The service is reentrant: multiple sessions are handled concurrently and
// operations on a single session are not serialized here. Consistency comes
// from the store (atomic chunk-index updates per upload id) and the driver
// (concurrent writes for distinct indices).
type Service struct {
	store   UploadStore
	driver  StorageDriver
	metrics Metrics

	defaultChunkSize int64
	ttl              time.Duration
}

// ChunkInput carries one incoming chunk.
type ChunkInput struct {
	UploadID string
	Index    int
	Size     int64
	Hash     string // optional sha256 hex digest of the chunk
	Body     io.Reader
}

// NewService creates an upload service over the given store and driver.
func NewService(store UploadStore, driver StorageDriver, cfg Config) *Service {
	if cfg.DefaultChunkSize <= 0 {
		cfg.DefaultChunkSize = DefaultChunkSize
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}

	return &Service{
		store:            store,
		driver:           driver,
		metrics:          cfg.Metrics,
		defaultChunkSize: cfg.DefaultChunkSize,
		ttl:              cfg.TTL,
	}
}

// InitUpload validates the init input, creates the session in the store and
// initializes driver state. Both must succeed for the session to exist; a
// driver init failure rolls back the store record.
func (s *Service) InitUpload(ctx context.Context, input InitInput) (session *Session, err error) {
	defer s.observe("init", time.Now(), &err)

	if input.FileSize <= 0 {
		return nil, ErrInvalidRequest(fmt.Sprintf("fileSize must be positive, got %d", input.FileSize))
	}

	desired := input.DesiredChunkSize
	if desired <= 0 {
		desired = s.defaultChunkSize
	}
	chunkSize := NormalizeChunkSize(desired, input.FileSize)

	now := time.Now().UTC()
	session = &Session{
		UploadID:    NewUploadID(),
		FileName:    input.FileName,
		MimeType:    input.MimeType,
		Metadata:    input.Metadata,
		FileSize:    input.FileSize,
		ChunkSize:   chunkSize,
		TotalChunks: TotalChunks(input.FileSize, chunkSize),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if s.ttl > 0 {
		expires := now.Add(s.ttl)
		session.ExpiresAt = &expires
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, ErrInternal("failed to create session", err)
	}

	if err := s.driver.InitUpload(ctx, session); err != nil {
		// The session is only created when both store and driver succeed.
		if delErr := s.store.DeleteSession(ctx, session.UploadID); delErr != nil {
			logger.Error("failed to roll back session after driver init failure",
				"upload_id", session.UploadID, "error", delErr)
		}
		return nil, s.driverError("driver init failed", err)
	}

	logger.Info("upload session created",
		"upload_id", session.UploadID,
		"file_size", session.FileSize,
		"chunk_size", session.ChunkSize,
		"total_chunks", session.TotalChunks,
	)

	if s.metrics != nil {
		s.metrics.RecordSession("created")
		s.metrics.RecordActiveSessions(1)
	}

	return session, nil
}

// HandleChunk validates and persists one chunk, marks it received, and
// advances a pending session to in_progress. Re-uploading a known index is
// idempotent: the driver overwrites and the received-set insert is a no-op.
func (s *Service) HandleChunk(ctx context.Context, input ChunkInput) (err error) {
	defer s.observe("chunk", time.Now(), &err)

	session, err := s.getSession(ctx, input.UploadID)
	if err != nil {
		return err
	}
	if err := rejectTerminal(session); err != nil {
		return err
	}

	if input.Index < 0 || input.Index >= session.TotalChunks {
		return ErrChunkOutOfRange(input.Index, session.TotalChunks)
	}

	expected := ExpectedChunkSize(input.Index, session.TotalChunks, session.FileSize, session.ChunkSize)
	if input.Size != expected {
		return ErrChunkSizeMismatch(expected, input.Size)
	}

	if err := s.driver.WriteChunk(ctx, session, input.Index, input.Body, expected, input.Hash); err != nil {
		return s.driverError(fmt.Sprintf("failed to write chunk %d", input.Index), err)
	}

	if err := s.store.MarkChunkReceived(ctx, session.UploadID, input.Index); err != nil {
		return ErrInternal("failed to record chunk", err)
	}

	if session.Status == StatusPending {
		inProgress := StatusInProgress
		if _, err := s.store.UpdateSession(ctx, session.UploadID, SessionPatch{Status: &inProgress}); err != nil {
			return ErrInternal("failed to update session status", err)
		}
	}

	logger.Debug("chunk received",
		"upload_id", session.UploadID,
		"index", input.Index,
		"size", expected,
	)

	if s.metrics != nil {
		s.metrics.RecordChunkBytes(expected)
	}

	return nil
}

// GetStatus returns the full status view of a session, including the sorted
// received and missing chunk sets.
func (s *Service) GetStatus(ctx context.Context, uploadID string) (status *UploadStatus, err error) {
	defer s.observe("status", time.Now(), &err)

	session, err := s.getSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	received, err := s.store.ListReceivedChunks(ctx, uploadID)
	if err != nil {
		return nil, ErrInternal("failed to list received chunks", err)
	}

	return &UploadStatus{
		UploadID:       session.UploadID,
		Status:         session.Status,
		FileName:       session.FileName,
		FileSize:       session.FileSize,
		ChunkSize:      session.ChunkSize,
		TotalChunks:    session.TotalChunks,
		ReceivedChunks: SortedChunks(received),
		MissingChunks:  MissingChunks(received, session.TotalChunks),
	}, nil
}

// CompleteUpload finalizes a session once every chunk has arrived. Finalize
// and the status patch are not transactional: if the driver succeeds but the
// patch fails, the artifact is durable while the session stays in_progress.
// That failure mode is logged at ERROR and the store error is returned.
func (s *Service) CompleteUpload(ctx context.Context, uploadID, fileHash string) (result *CompleteResult, err error) {
	defer s.observe("complete", time.Now(), &err)

	session, err := s.getSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if err := rejectTerminal(session); err != nil {
		return nil, err
	}

	received, err := s.store.ListReceivedChunks(ctx, uploadID)
	if err != nil {
		return nil, ErrInternal("failed to list received chunks", err)
	}
	if missing := MissingChunks(received, session.TotalChunks); len(missing) > 0 {
		return nil, ErrMissingChunks(missing)
	}

	if fileHash != "" {
		logger.Debug("file hash supplied on complete (advisory)",
			"upload_id", uploadID, "hash", fileHash)
	}

	location, err := s.driver.FinalizeUpload(ctx, session)
	if err != nil {
		return nil, s.driverError("finalize failed", err)
	}

	completed := StatusCompleted
	if _, err := s.store.UpdateSession(ctx, uploadID, SessionPatch{Status: &completed}); err != nil {
		// Finalize is not idempotent (S3 multipart); do not retry it. The
		// artifact exists but the session still reads in_progress.
		logger.Error("artifact finalized but session status update failed",
			"upload_id", uploadID, "location_type", location.Type, "error", err)
		return nil, ErrInternal("failed to mark session completed", err)
	}

	logger.Info("upload completed",
		"upload_id", uploadID,
		"file_size", session.FileSize,
		"location_type", location.Type,
	)

	if s.metrics != nil {
		s.metrics.RecordSession("completed")
		s.metrics.RecordActiveSessions(-1)
	}

	return &CompleteResult{
		UploadID: uploadID,
		Status:   StatusCompleted,
		FileName: session.FileName,
		FileSize: session.FileSize,
		Location: location,
	}, nil
}

// AbortUpload cancels a session and releases driver state. Aborting an
// already-canceled session is a no-op; aborting a completed one fails.
func (s *Service) AbortUpload(ctx context.Context, uploadID string) (err error) {
	defer s.observe("abort", time.Now(), &err)

	session, err := s.getSession(ctx, uploadID)
	if err != nil {
		return err
	}
	if session.Status == StatusCompleted {
		return ErrAlreadyCompleted(uploadID)
	}
	if session.Status == StatusCanceled {
		return nil
	}

	if err := s.driver.AbortUpload(ctx, session); err != nil {
		return s.driverError("abort failed", err)
	}

	canceled := StatusCanceled
	if _, err := s.store.UpdateSession(ctx, uploadID, SessionPatch{Status: &canceled}); err != nil {
		return ErrInternal("failed to mark session canceled", err)
	}

	logger.Info("upload canceled", "upload_id", uploadID)

	if s.metrics != nil {
		s.metrics.RecordSession("canceled")
		s.metrics.RecordActiveSessions(-1)
	}

	return nil
}

// CleanupExpiredUploads sweeps sessions whose TTL has elapsed. Requires the
// store's ExpiredLister capability; without it the sweep reports a single
// "not supported" error. Per-session errors are collected without aborting
// the sweep.
func (s *Service) CleanupExpiredUploads(ctx context.Context) (CleanupResult, error) {
	lister, ok := s.store.(ExpiredLister)
	if !ok {
		return CleanupResult{Errors: []string{"store does not support listing expired sessions"}}, nil
	}

	expired, err := lister.ListExpiredSessions(ctx)
	if err != nil {
		return CleanupResult{}, ErrInternal("failed to list expired sessions", err)
	}

	return s.sweep(ctx, expired, "expired"), nil
}

// CleanupStaleUploads sweeps non-completed sessions that have not been
// touched for longer than maxAge. Requires the store's AllLister capability.
func (s *Service) CleanupStaleUploads(ctx context.Context, maxAge time.Duration) (CleanupResult, error) {
	lister, ok := s.store.(AllLister)
	if !ok {
		return CleanupResult{Errors: []string{"store does not support listing all sessions"}}, nil
	}

	sessions, err := lister.ListAllSessions(ctx)
	if err != nil {
		return CleanupResult{}, ErrInternal("failed to list sessions", err)
	}

	now := time.Now()
	var stale []*Session
	for _, session := range sessions {
		if session.Status == StatusCompleted {
			continue
		}
		if now.Sub(session.UpdatedAt) > maxAge {
			stale = append(stale, session)
		}
	}

	return s.sweep(ctx, stale, "stale"), nil
}

// sweep aborts driver state for non-completed sessions and deletes their
// records. Concurrent deletions are tolerated (missing session -> skip).
func (s *Service) sweep(ctx context.Context, sessions []*Session, reason string) CleanupResult {
	result := CleanupResult{Errors: []string{}}

	for _, session := range sessions {
		if session.Status != StatusCompleted {
			if err := s.driver.AbortUpload(ctx, session); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s: abort failed: %v", session.UploadID, err))
				continue
			}
		}

		if err := s.store.DeleteSession(ctx, session.UploadID); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: delete failed: %v", session.UploadID, err))
			continue
		}

		result.Cleaned++
		logger.Info("session cleaned up", "upload_id", session.UploadID, "reason", reason)

		if s.metrics != nil {
			s.metrics.RecordSession("expired")
			if session.Status != StatusCompleted {
				s.metrics.RecordActiveSessions(-1)
			}
		}
	}

	return result
}

// getSession looks up a session, translating store absence into
// UPLOAD_NOT_FOUND.
func (s *Service) getSession(ctx context.Context, uploadID string) (*Session, error) {
	session, err := s.store.GetSession(ctx, uploadID)
	if err != nil {
		return nil, ErrInternal("failed to load session", err)
	}
	if session == nil {
		return nil, ErrUploadNotFound(uploadID)
	}
	return session, nil
}

// rejectTerminal fails mutations against completed or canceled sessions.
func rejectTerminal(session *Session) error {
	switch session.Status {
	case StatusCompleted:
		return ErrAlreadyCompleted(session.UploadID)
	case StatusCanceled:
		return ErrCanceled(session.UploadID)
	}
	return nil
}

// driverError passes typed driver errors through verbatim and wraps
// everything else as STORAGE_ERROR.
func (s *Service) driverError(message string, err error) error {
	if _, ok := AsError(err); ok {
		return err
	}
	return ErrStorage(message+": "+err.Error(), err)
}

// observe records one operation's duration and outcome.
func (s *Service) observe(op string, start time.Time, err *error) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, time.Since(start), *err)
	}
}
