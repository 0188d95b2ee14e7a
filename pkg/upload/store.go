package upload

import "context"

// UploadStore persists session metadata and the received-chunk index.
//
// Implementations must make MarkChunkReceived and ListReceivedChunks atomic
// with respect to one upload id. GetSession returns (nil, nil) for unknown
// or expired sessions; the service translates that into UPLOAD_NOT_FOUND.
//
// Built-in stores: process-local memory (pkg/upload/store/memory) and
// persistent BadgerDB (pkg/upload/store/badger).
type UploadStore interface {
	// CreateSession persists a new session record verbatim.
	CreateSession(ctx context.Context, session *Session) error

	// GetSession returns the session, or (nil, nil) when absent or expired.
	GetSession(ctx context.Context, uploadID string) (*Session, error)

	// UpdateSession applies the patch, refreshes UpdatedAt, and returns the
	// updated session.
	UpdateSession(ctx context.Context, uploadID string, patch SessionPatch) (*Session, error)

	// MarkChunkReceived records a chunk index as received. Idempotent:
	// re-marking a known index is a no-op. Refreshes UpdatedAt.
	MarkChunkReceived(ctx context.Context, uploadID string, index int) error

	// ListReceivedChunks returns the received indices in ascending order.
	ListReceivedChunks(ctx context.Context, uploadID string) ([]int, error)

	// DeleteSession removes the session and its chunk index. Deleting an
	// unknown session is a no-op.
	DeleteSession(ctx context.Context, uploadID string) error

	// Close releases store resources.
	Close() error
}

// SessionPatch is a partial session update. Nil fields are left unchanged.
type SessionPatch struct {
	Status   *Status
	Metadata map[string]string // merged key-by-key into session metadata
}

// ExpiredLister is an optional store capability used by the expired-session
// cleanup sweep. The listing policy must not return completed sessions.
type ExpiredLister interface {
	ListExpiredSessions(ctx context.Context) ([]*Session, error)
}

// AllLister is an optional store capability used by the stale-session
// cleanup sweep.
type AllLister interface {
	ListAllSessions(ctx context.Context) ([]*Session, error)
}
