// Package badger provides a BadgerDB-backed UploadStore. Sessions and
// received-chunk markers survive process restart, which is what makes
// resume-after-crash work on the server side.
//
// Key namespaces:
//
//	Data Type         Prefix  Key Format              Value
//	=========================================================
//	Sessions          "s:"    s:<uploadId>            Session (JSON)
//	Received Chunks   "c:"    c:<uploadId>:<%06d>     empty
package badger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/torrin/pkg/upload"
)

const (
	prefixSession = "s:"
	prefixChunk   = "c:"
)

func keySession(uploadID string) []byte {
	return []byte(prefixSession + uploadID)
}

// keyChunk generates a chunk marker key. The index is zero-padded so that
// lexicographic iteration order matches numeric order.
func keyChunk(uploadID string, index int) []byte {
	return []byte(fmt.Sprintf("%s%s:%06d", prefixChunk, uploadID, index))
}

func keyChunkPrefix(uploadID string) []byte {
	return []byte(prefixChunk + uploadID + ":")
}

// Config holds BadgerDB store options.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory runs badger without disk persistence (tests).
	InMemory bool
}

// Store is a BadgerDB implementation of upload.UploadStore.
type Store struct {
	db *badgerdb.DB

	now func() time.Time
}

// New opens (or creates) the database at cfg.Path.
func New(cfg Config) (*Store, error) {
	opts := badgerdb.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	// Badger's default logger writes to stderr outside our slog setup.
	opts = opts.WithLogger(nil)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// CreateSession persists a new session record.
func (s *Store) CreateSession(ctx context.Context, session *upload.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeSession(session)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(keySession(session.UploadID))
		if err == nil {
			return fmt.Errorf("session already exists: %s", session.UploadID)
		}
		if err != badgerdb.ErrKeyNotFound {
			return err
		}
		return txn.Set(keySession(session.UploadID), data)
	})
}

// GetSession returns the session, or (nil, nil) when unknown or expired.
func (s *Store) GetSession(ctx context.Context, uploadID string) (*upload.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var session *upload.Session
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keySession(uploadID))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decErr error
			session, decErr = decodeSession(val)
			return decErr
		})
	})
	if err != nil {
		return nil, err
	}

	if session == nil || session.Expired(s.now()) {
		return nil, nil
	}
	return session, nil
}

// UpdateSession applies the patch and refreshes UpdatedAt.
func (s *Store) UpdateSession(ctx context.Context, uploadID string, patch upload.SessionPatch) (*upload.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var updated *upload.Session
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keySession(uploadID))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("session not found: %s", uploadID)
		}
		if err != nil {
			return err
		}

		var session *upload.Session
		if err := item.Value(func(val []byte) error {
			var decErr error
			session, decErr = decodeSession(val)
			return decErr
		}); err != nil {
			return err
		}

		if patch.Status != nil {
			session.Status = *patch.Status
		}
		if len(patch.Metadata) > 0 {
			if session.Metadata == nil {
				session.Metadata = make(map[string]string, len(patch.Metadata))
			}
			for k, v := range patch.Metadata {
				session.Metadata[k] = v
			}
		}
		session.UpdatedAt = s.now().UTC()

		data, err := encodeSession(session)
		if err != nil {
			return err
		}
		if err := txn.Set(keySession(uploadID), data); err != nil {
			return err
		}
		updated = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkChunkReceived records a chunk index; re-marking overwrites the same
// key. Refreshes the session's UpdatedAt.
func (s *Store) MarkChunkReceived(ctx context.Context, uploadID string, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keySession(uploadID))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("session not found: %s", uploadID)
		}
		if err != nil {
			return err
		}

		var session *upload.Session
		if err := item.Value(func(val []byte) error {
			var decErr error
			session, decErr = decodeSession(val)
			return decErr
		}); err != nil {
			return err
		}

		if err := txn.Set(keyChunk(uploadID, index), nil); err != nil {
			return err
		}

		session.UpdatedAt = s.now().UTC()
		data, err := encodeSession(session)
		if err != nil {
			return err
		}
		return txn.Set(keySession(uploadID), data)
	})
}

// ListReceivedChunks returns the received indices in ascending order.
func (s *Store) ListReceivedChunks(ctx context.Context, uploadID string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := keyChunkPrefix(uploadID)
	indices := make([]int, 0)

	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			raw := strings.TrimPrefix(key, string(prefix))
			index, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("malformed chunk key %q: %w", key, err)
			}
			indices = append(indices, index)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Zero-padded keys already iterate in numeric order.
	return indices, nil
}

// DeleteSession removes the session and all its chunk markers. Unknown ids
// are a no-op.
func (s *Store) DeleteSession(ctx context.Context, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete(keySession(uploadID)); err != nil {
			return err
		}

		prefix := keyChunkPrefix(uploadID)
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var keysToDelete [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keysToDelete = append(keysToDelete, append([]byte{}, it.Item().Key()...))
		}
		for _, key := range keysToDelete {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListExpiredSessions returns non-completed sessions whose TTL has elapsed.
func (s *Store) ListExpiredSessions(ctx context.Context) ([]*upload.Session, error) {
	return s.listSessions(ctx, func(session *upload.Session, now time.Time) bool {
		return session.Status != upload.StatusCompleted && session.Expired(now)
	})
}

// ListAllSessions returns every session in the store.
func (s *Store) ListAllSessions(ctx context.Context) ([]*upload.Session, error) {
	return s.listSessions(ctx, func(*upload.Session, time.Time) bool { return true })
}

func (s *Store) listSessions(ctx context.Context, keep func(*upload.Session, time.Time) bool) ([]*upload.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	prefix := []byte(prefixSession)
	var sessions []*upload.Session

	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				session, err := decodeSession(val)
				if err != nil {
					return err
				}
				if keep(session, now) {
					sessions = append(sessions, session)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetNowFunc overrides the store clock (for testing).
func (s *Store) SetNowFunc(now func() time.Time) {
	s.now = now
}

var (
	_ upload.UploadStore   = (*Store)(nil)
	_ upload.ExpiredLister = (*Store)(nil)
	_ upload.AllLister     = (*Store)(nil)
)
