package upload

import (
	"context"
	"io"
)

// StorageLocation identifies where a finalized artifact lives. Type selects
// which fields are meaningful: "local" uses Path; "s3" uses Bucket, Key and
// optionally URL and ETag. Drivers may introduce new types.
type StorageLocation struct {
	Type   string `json:"type"`
	Path   string `json:"path,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
	URL    string `json:"url,omitempty"`
	ETag   string `json:"etag,omitempty"`
}

// StorageDriver persists upload bytes. Implementations must tolerate
// concurrent WriteChunk calls for distinct indices of the same session, and
// overwrite semantics (last writer wins) for a re-uploaded index.
//
// Built-in drivers: local filesystem (pkg/upload/driver/local) and
// S3-compatible multipart (pkg/upload/driver/s3).
type StorageDriver interface {
	// InitUpload prepares per-session storage state (staging directory,
	// multipart upload). Called once, before any chunk is written.
	InitUpload(ctx context.Context, session *Session) error

	// WriteChunk persists one chunk. expected is the exact byte length the
	// chunk must have; drivers fail with CHUNK_SIZE_MISMATCH when the body
	// length differs. hash, when non-empty, is the client-supplied sha256
	// hex digest of the chunk; drivers verify it and fail with
	// CHUNK_HASH_MISMATCH on disagreement.
	WriteChunk(ctx context.Context, session *Session, index int, body io.Reader, expected int64, hash string) error

	// FinalizeUpload assembles the accumulated chunks into the final
	// artifact and releases staging state.
	FinalizeUpload(ctx context.Context, session *Session) (*StorageLocation, error)

	// AbortUpload releases staging state. Missing state is not an error.
	AbortUpload(ctx context.Context, session *Session) error
}
