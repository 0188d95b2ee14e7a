package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/torrin/pkg/upload"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newSession(id string, ttl time.Duration) *upload.Session {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	return &upload.Session{
		UploadID:    id,
		FileName:    "dataset.bin",
		FileSize:    2_500_000,
		ChunkSize:   1_000_000,
		TotalChunks: 3,
		Status:      upload.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   &expiresAt,
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := newSession("u_rt", time.Hour)
	session.Metadata = map[string]string{"torrin.s3.multipartUploadId": "mp-1"}
	require.NoError(t, store.CreateSession(ctx, session))

	got, err := store.GetSession(ctx, "u_rt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session.UploadID, got.UploadID)
	assert.Equal(t, session.FileSize, got.FileSize)
	assert.Equal(t, session.TotalChunks, got.TotalChunks)
	assert.Equal(t, "mp-1", got.Metadata["torrin.s3.multipartUploadId"])
}

func TestCreateSessionDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, newSession("u_dup", time.Hour)))
	assert.Error(t, store.CreateSession(ctx, newSession("u_dup", time.Hour)))
}

func TestGetSessionUnknownAndExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.GetSession(ctx, "u_missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.CreateSession(ctx, newSession("u_old", time.Minute)))
	store.SetNowFunc(func() time.Time { return time.Now().Add(2 * time.Minute) })

	got, err = store.GetSession(ctx, "u_old")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, newSession("u_upd", time.Hour)))

	status := upload.StatusInProgress
	updated, err := store.UpdateSession(ctx, "u_upd", upload.SessionPatch{
		Status:   &status,
		Metadata: map[string]string{"torrin.s3.part.0": "etag-0"},
	})
	require.NoError(t, err)
	assert.Equal(t, upload.StatusInProgress, updated.Status)
	assert.Equal(t, "etag-0", updated.Metadata["torrin.s3.part.0"])

	// The patch must be durable, not just reflected in the return value.
	got, err := store.GetSession(ctx, "u_upd")
	require.NoError(t, err)
	assert.Equal(t, upload.StatusInProgress, got.Status)
}

func TestMarkAndListChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, newSession("u_chunks", time.Hour)))

	require.NoError(t, store.MarkChunkReceived(ctx, "u_chunks", 2))
	require.NoError(t, store.MarkChunkReceived(ctx, "u_chunks", 0))
	require.NoError(t, store.MarkChunkReceived(ctx, "u_chunks", 2))

	received, err := store.ListReceivedChunks(ctx, "u_chunks")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, received)
}

func TestMarkChunkUnknownSession(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.MarkChunkReceived(context.Background(), "u_nope", 0))
}

func TestDeleteSessionRemovesChunkMarkers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, newSession("u_del", time.Hour)))
	require.NoError(t, store.MarkChunkReceived(ctx, "u_del", 0))
	require.NoError(t, store.MarkChunkReceived(ctx, "u_del", 1))

	require.NoError(t, store.DeleteSession(ctx, "u_del"))

	got, err := store.GetSession(ctx, "u_del")
	require.NoError(t, err)
	assert.Nil(t, got)

	received, err := store.ListReceivedChunks(ctx, "u_del")
	require.NoError(t, err)
	assert.Empty(t, received)

	// Deleting again is a no-op.
	assert.NoError(t, store.DeleteSession(ctx, "u_del"))
}

func TestListExpiredSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, newSession("u_live", time.Hour)))
	require.NoError(t, store.CreateSession(ctx, newSession("u_dead", time.Minute)))

	done := newSession("u_done", time.Minute)
	done.Status = upload.StatusCompleted
	require.NoError(t, store.CreateSession(ctx, done))

	store.SetNowFunc(func() time.Time { return time.Now().Add(10 * time.Minute) })

	expired, err := store.ListExpiredSessions(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "u_dead", expired[0].UploadID)
}

func TestListAllSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, newSession("u_a", time.Hour)))
	require.NoError(t, store.CreateSession(ctx, newSession("u_b", time.Hour)))

	all, err := store.ListAllSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dbPath := t.TempDir()
	ctx := context.Background()

	store, err := New(Config{Path: dbPath})
	require.NoError(t, err)
	require.NoError(t, store.CreateSession(ctx, newSession("u_persist", time.Hour)))
	require.NoError(t, store.MarkChunkReceived(ctx, "u_persist", 1))
	require.NoError(t, store.Close())

	reopened, err := New(Config{Path: dbPath})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetSession(ctx, "u_persist")
	require.NoError(t, err)
	require.NotNil(t, got)

	received, err := reopened.ListReceivedChunks(ctx, "u_persist")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, received)
}
