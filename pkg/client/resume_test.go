package client

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResumeStore(t *testing.T) *FileResumeStore {
	t.Helper()
	store, err := NewFileResumeStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func sampleState(uploadID, fileKey string) *UploadState {
	return &UploadState{
		UploadID:       uploadID,
		FileKey:        fileKey,
		FileName:       "data.bin",
		FileSize:       2_500_000,
		ChunkSize:      1_000_000,
		TotalChunks:    3,
		ReceivedChunks: []int{0, 2},
		UpdatedAt:      time.Now().UTC(),
	}
}

func TestResumeStoreRoundTrip(t *testing.T) {
	store := newResumeStore(t)

	require.NoError(t, store.Save(sampleState("u_1", "data.bin-2500000-1111")))

	state, err := store.Load("data.bin-2500000-1111")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "u_1", state.UploadID)
	assert.Equal(t, []int{0, 2}, state.ReceivedChunks)
}

func TestResumeStoreLoadUnknown(t *testing.T) {
	store := newResumeStore(t)

	state, err := store.Load("nope")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestResumeStoreOverwrite(t *testing.T) {
	store := newResumeStore(t)
	key := "data.bin-2500000-1111"

	require.NoError(t, store.Save(sampleState("u_1", key)))

	updated := sampleState("u_1", key)
	updated.ReceivedChunks = []int{0, 1, 2}
	require.NoError(t, store.Save(updated))

	state, err := store.Load(key)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, state.ReceivedChunks)
}

func TestResumeStoreDelete(t *testing.T) {
	store := newResumeStore(t)
	key := "data.bin-2500000-1111"

	require.NoError(t, store.Save(sampleState("u_1", key)))
	require.NoError(t, store.Delete(key))

	state, err := store.Load(key)
	require.NoError(t, err)
	assert.Nil(t, state)

	// Deleting again is a no-op.
	require.NoError(t, store.Delete(key))
}

func TestResumeStoreDanglingIndexEntry(t *testing.T) {
	store := newResumeStore(t)
	key := "data.bin-2500000-1111"

	require.NoError(t, store.Save(sampleState("u_1", key)))
	require.NoError(t, os.Remove(store.statePath("u_1")))

	state, err := store.Load(key)
	require.NoError(t, err)
	assert.Nil(t, state)
}
