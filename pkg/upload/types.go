// Package upload implements the Torrin upload coordination engine.
//
// The core type is Service, which orchestrates a session store (UploadStore)
// and a bytes store (StorageDriver) to accept fixed-size chunks out of order,
// track which chunks have arrived, and assemble the final artifact. Clients
// that reconnect after interruption resume from the server's record of
// received chunks.
package upload

import "time"

// Status is the lifecycle state of an upload session.
//
// Transitions: pending -> in_progress (first chunk), pending|in_progress ->
// completed (finalize ok), pending|in_progress -> canceled (abort or sweep).
// failed is reserved for unrecoverable driver errors.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Defaults and bounds for chunk sizing and session lifetime.
const (
	DefaultChunkSize = 1 * 1024 * 1024   // 1 MiB
	MinChunkSize     = 256 * 1024        // 256 KiB
	MaxChunkSize     = 100 * 1024 * 1024 // 100 MiB

	DefaultTTL = 24 * time.Hour
)

// Session is the authoritative record of one upload.
//
// FileSize, ChunkSize and TotalChunks are immutable once the session is
// created. UpdatedAt advances on any mutation. ExpiresAt is set iff the
// session was created with a TTL.
type Session struct {
	UploadID    string            `json:"uploadId"`
	FileName    string            `json:"fileName,omitempty"`
	MimeType    string            `json:"mimeType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	FileSize    int64             `json:"fileSize"`
	ChunkSize   int64             `json:"chunkSize"`
	TotalChunks int               `json:"totalChunks"`
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
}

// Clone returns a deep copy of the session. Stores hand out clones so
// callers cannot mutate the authoritative record.
func (s *Session) Clone() *Session {
	clone := *s
	if s.Metadata != nil {
		clone.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			clone.Metadata[k] = v
		}
	}
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		clone.ExpiresAt = &t
	}
	return &clone
}

// Expired reports whether the session's TTL has elapsed at the given time.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}

// InitInput carries the parameters for creating a new upload session.
type InitInput struct {
	FileName         string            `json:"fileName,omitempty"`
	FileSize         int64             `json:"fileSize"`
	MimeType         string            `json:"mimeType,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	DesiredChunkSize int64             `json:"desiredChunkSize,omitempty"`
}

// UploadStatus is the full status view of a session, including the
// received/missing chunk index sets.
type UploadStatus struct {
	UploadID       string `json:"uploadId"`
	Status         Status `json:"status"`
	FileName       string `json:"fileName,omitempty"`
	FileSize       int64  `json:"fileSize"`
	ChunkSize      int64  `json:"chunkSize"`
	TotalChunks    int    `json:"totalChunks"`
	ReceivedChunks []int  `json:"receivedChunks"`
	MissingChunks  []int  `json:"missingChunks"`
}

// CompleteResult is returned when an upload is finalized.
type CompleteResult struct {
	UploadID string           `json:"uploadId"`
	Status   Status           `json:"status"`
	FileName string           `json:"fileName,omitempty"`
	FileSize int64            `json:"fileSize"`
	Location *StorageLocation `json:"location"`
}

// CleanupResult summarizes one cleanup sweep. Errors are collected
// per-session without aborting the sweep.
type CleanupResult struct {
	Cleaned int      `json:"cleaned"`
	Errors  []string `json:"errors"`
}
