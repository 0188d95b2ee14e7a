package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// UploadState is the client-side resume record for one upload. FileKey
// identifies the file across process restarts (name, size and modification
// time), so a new run of the same file can rediscover its session.
type UploadState struct {
	UploadID       string    `json:"uploadId"`
	FileKey        string    `json:"fileKey"`
	FileName       string    `json:"fileName,omitempty"`
	FileSize       int64     `json:"fileSize"`
	ChunkSize      int64     `json:"chunkSize"`
	TotalChunks    int       `json:"totalChunks"`
	ReceivedChunks []int     `json:"receivedChunks"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ResumeStore persists upload state between runs. Load returns (nil, nil)
// when no state exists for the key.
type ResumeStore interface {
	Save(state *UploadState) error
	Load(fileKey string) (*UploadState, error)
	Delete(fileKey string) error
}

// FileResumeStore stores state as JSON files in a directory, one file per
// upload plus an index mapping file keys to upload ids. Writes go through a
// uniquely named temp file and a rename, so a crash never leaves a
// half-written record.
type FileResumeStore struct {
	dir string
}

// DefaultResumeDir is ~/.torrin/state.
func DefaultResumeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".torrin", "state"), nil
}

// NewFileResumeStore creates the store, making sure the directory exists.
func NewFileResumeStore(dir string) (*FileResumeStore, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultResumeDir(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create resume state directory: %w", err)
	}
	return &FileResumeStore{dir: dir}, nil
}

func (s *FileResumeStore) statePath(uploadID string) string {
	return filepath.Join(s.dir, "torrin_upload_"+uploadID)
}

func (s *FileResumeStore) indexPath() string {
	return filepath.Join(s.dir, "torrin_file_index")
}

// Save writes the state record and points the file index at it.
func (s *FileResumeStore) Save(state *UploadState) error {
	if err := s.writeJSON(s.statePath(state.UploadID), state); err != nil {
		return err
	}

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	index[state.FileKey] = state.UploadID
	return s.writeJSON(s.indexPath(), index)
}

// Load returns the state for a file key, or (nil, nil) when absent. A
// dangling index entry (state file missing) is treated as absent.
func (s *FileResumeStore) Load(fileKey string) (*UploadState, error) {
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	uploadID, ok := index[fileKey]
	if !ok {
		return nil, nil
	}

	data, err := os.ReadFile(s.statePath(uploadID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read resume state: %w", err)
	}

	var state UploadState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode resume state: %w", err)
	}
	return &state, nil
}

// Delete removes the state record and its index entry. Unknown keys are a
// no-op.
func (s *FileResumeStore) Delete(fileKey string) error {
	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	uploadID, ok := index[fileKey]
	if !ok {
		return nil
	}

	if err := os.Remove(s.statePath(uploadID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove resume state: %w", err)
	}

	delete(index, fileKey)
	return s.writeJSON(s.indexPath(), index)
}

func (s *FileResumeStore) loadIndex() (map[string]string, error) {
	data, err := os.ReadFile(s.indexPath())
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read resume index: %w", err)
	}

	index := make(map[string]string)
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to decode resume index: %w", err)
	}
	return index, nil
}

// writeJSON writes atomically via a unique temp file and rename.
func (s *FileResumeStore) writeJSON(path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode resume state: %w", err)
	}

	tmp := filepath.Join(s.dir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write resume state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move resume state into place: %w", err)
	}
	return nil
}

var _ ResumeStore = (*FileResumeStore)(nil)
