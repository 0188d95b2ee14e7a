// Package memory provides the process-local reference UploadStore.
//
// The store does not survive restart; durability is the concern of the
// badger store or a network-backed implementation of the same interface.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/torrin/pkg/upload"
)

// ErrStoreClosed is returned for operations on a closed store.
var ErrStoreClosed = errors.New("upload store is closed")

// entry holds one session with its received-chunk set.
type entry struct {
	session  *upload.Session
	received map[int]struct{}
}

// Store is an in-memory implementation of upload.UploadStore.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool

	// now is swappable for TTL tests.
	now func() time.Time
}

// New creates a new in-memory upload store.
func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// CreateSession persists a new session record.
func (s *Store) CreateSession(ctx context.Context, session *upload.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.entries[session.UploadID]; exists {
		return errors.New("session already exists: " + session.UploadID)
	}

	s.entries[session.UploadID] = &entry{
		session:  session.Clone(),
		received: make(map[int]struct{}),
	}
	return nil
}

// GetSession returns the session, or (nil, nil) when unknown. An expired
// session is treated as absent.
func (s *Store) GetSession(ctx context.Context, uploadID string) (*upload.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	e, ok := s.entries[uploadID]
	if !ok || e.session.Expired(s.now()) {
		return nil, nil
	}
	return e.session.Clone(), nil
}

// UpdateSession applies the patch and refreshes UpdatedAt.
func (s *Store) UpdateSession(ctx context.Context, uploadID string, patch upload.SessionPatch) (*upload.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	e, ok := s.entries[uploadID]
	if !ok {
		return nil, errors.New("session not found: " + uploadID)
	}

	if patch.Status != nil {
		e.session.Status = *patch.Status
	}
	if len(patch.Metadata) > 0 {
		if e.session.Metadata == nil {
			e.session.Metadata = make(map[string]string, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			e.session.Metadata[k] = v
		}
	}
	e.session.UpdatedAt = s.now().UTC()

	return e.session.Clone(), nil
}

// MarkChunkReceived records a chunk index; re-marking is a no-op. Refreshes
// UpdatedAt.
func (s *Store) MarkChunkReceived(ctx context.Context, uploadID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	e, ok := s.entries[uploadID]
	if !ok {
		return errors.New("session not found: " + uploadID)
	}

	e.received[index] = struct{}{}
	e.session.UpdatedAt = s.now().UTC()
	return nil
}

// ListReceivedChunks returns the received indices in ascending order.
func (s *Store) ListReceivedChunks(ctx context.Context, uploadID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	e, ok := s.entries[uploadID]
	if !ok {
		return nil, errors.New("session not found: " + uploadID)
	}

	indices := make([]int, 0, len(e.received))
	for idx := range e.received {
		indices = append(indices, idx)
	}
	return upload.SortedChunks(indices), nil
}

// DeleteSession removes the session and its chunk index. Unknown ids are a
// no-op.
func (s *Store) DeleteSession(ctx context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	delete(s.entries, uploadID)
	return nil
}

// ListExpiredSessions returns non-completed sessions whose TTL has elapsed.
// Completed sessions are never swept automatically.
func (s *Store) ListExpiredSessions(ctx context.Context) ([]*upload.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	now := s.now()
	var expired []*upload.Session
	for _, e := range s.entries {
		if e.session.Status == upload.StatusCompleted {
			continue
		}
		if e.session.Expired(now) {
			expired = append(expired, e.session.Clone())
		}
	}
	return expired, nil
}

// ListAllSessions returns every session in the store.
func (s *Store) ListAllSessions(ctx context.Context) ([]*upload.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	sessions := make([]*upload.Session, 0, len(s.entries))
	for _, e := range s.entries {
		sessions = append(sessions, e.session.Clone())
	}
	return sessions, nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.entries = nil
	return nil
}

// SessionCount returns the number of sessions stored (for testing).
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// SetNowFunc overrides the store clock (for testing).
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Ensure Store implements the store interface and optional capabilities.
var (
	_ upload.UploadStore   = (*Store)(nil)
	_ upload.ExpiredLister = (*Store)(nil)
	_ upload.AllLister     = (*Store)(nil)
)
