//go:build integration

package badger_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/torrin/pkg/upload"
	"github.com/marmos91/torrin/pkg/upload/driver/local"
	badgerstore "github.com/marmos91/torrin/pkg/upload/store/badger"
)

// TestBadgerUpload_SurvivesRestart uploads part of a file, closes the
// store, reopens it, and finishes the upload. This is the crash-recovery
// path: session state and the received-chunk index must come back from
// disk, and the staged chunks must still be on the filesystem.
func TestBadgerUpload_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sessions")
	baseDir := t.TempDir()

	driver, err := local.New(local.Config{BaseDir: baseDir})
	if err != nil {
		t.Fatalf("Failed to create local driver: %v", err)
	}

	store, err := badgerstore.New(badgerstore.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("Failed to open badger store: %v", err)
	}

	service := upload.NewService(store, driver, upload.Config{})

	fileSize := int64(2_500_000)
	chunkSize := int64(1_000_000)
	session, err := service.InitUpload(ctx, upload.InitInput{
		FileName:         "data.bin",
		FileSize:         fileSize,
		DesiredChunkSize: chunkSize,
	})
	if err != nil {
		t.Fatalf("InitUpload failed: %v", err)
	}

	chunk := func(index int) []byte {
		size := upload.ExpectedChunkSize(index, session.TotalChunks, fileSize, chunkSize)
		data := make([]byte, size)
		for i := range data {
			data[i] = byte((index + i) % 251)
		}
		return data
	}

	// First run: chunks 0 and 2 arrive, then the process dies.
	for _, i := range []int{0, 2} {
		data := chunk(i)
		err := service.HandleChunk(ctx, upload.ChunkInput{
			UploadID: session.UploadID,
			Index:    i,
			Body:     bytes.NewReader(data),
			Size:     int64(len(data)),
		})
		if err != nil {
			t.Fatalf("HandleChunk(%d) failed: %v", i, err)
		}
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	// Second run: fresh store handle over the same directory.
	store, err = badgerstore.New(badgerstore.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("Failed to reopen badger store: %v", err)
	}
	defer func() { _ = store.Close() }()

	service = upload.NewService(store, driver, upload.Config{})

	status, err := service.GetStatus(ctx, session.UploadID)
	if err != nil {
		t.Fatalf("GetStatus after restart failed: %v", err)
	}
	if len(status.ReceivedChunks) != 2 {
		t.Fatalf("Expected 2 received chunks after restart, got %v", status.ReceivedChunks)
	}
	if len(status.MissingChunks) != 1 || status.MissingChunks[0] != 1 {
		t.Fatalf("Expected chunk 1 missing, got %v", status.MissingChunks)
	}

	data := chunk(1)
	err = service.HandleChunk(ctx, upload.ChunkInput{
		UploadID: session.UploadID,
		Index:    1,
		Body:     bytes.NewReader(data),
		Size:     int64(len(data)),
	})
	if err != nil {
		t.Fatalf("HandleChunk(1) failed: %v", err)
	}

	result, err := service.CompleteUpload(ctx, session.UploadID, "")
	if err != nil {
		t.Fatalf("CompleteUpload failed: %v", err)
	}
	if result.Location == nil || result.Location.Path == "" {
		t.Fatal("Expected a filesystem location")
	}

	info, err := os.Stat(result.Location.Path)
	if err != nil {
		t.Fatalf("Assembled file missing: %v", err)
	}
	if info.Size() != fileSize {
		t.Fatalf("Expected %d bytes, got %d", fileSize, info.Size())
	}
}
