package client_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/torrin/pkg/api"
	"github.com/marmos91/torrin/pkg/client"
	"github.com/marmos91/torrin/pkg/upload"
	"github.com/marmos91/torrin/pkg/upload/driver/local"
	"github.com/marmos91/torrin/pkg/upload/store/memory"
)

type testBackend struct {
	server  *httptest.Server
	service *upload.Service
	baseDir string
}

func newBackend(t *testing.T) *testBackend {
	t.Helper()

	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	baseDir := t.TempDir()
	driver, err := local.New(local.Config{BaseDir: baseDir})
	require.NoError(t, err)

	service := upload.NewService(store, driver, upload.Config{})
	server := httptest.NewServer(api.NewRouter(service, ""))
	t.Cleanup(server.Close)

	return &testBackend{server: server, service: service, baseDir: baseDir}
}

func (b *testBackend) client() *client.Client {
	return client.NewClient(b.server.URL + "/torrin/uploads")
}

func testFile(size int64) (*bytes.Reader, client.FileInfo) {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return bytes.NewReader(data), client.FileInfo{
		Name:         "data.bin",
		Size:         size,
		LastModified: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestUploadHappyPath(t *testing.T) {
	backend := newBackend(t)
	reader, file := testFile(2_500_000)

	up := client.NewUpload(backend.client(), reader, file, client.Options{
		ChunkSize: 1_000_000,
	})

	var mu sync.Mutex
	var progressEvents []client.ProgressEvent
	var transitions []client.UploadStatus
	up.OnProgress(func(ev client.ProgressEvent) {
		mu.Lock()
		progressEvents = append(progressEvents, ev)
		mu.Unlock()
	})
	up.OnStatus(func(old, new client.UploadStatus) {
		mu.Lock()
		transitions = append(transitions, new)
		mu.Unlock()
	})

	require.NoError(t, up.Start(context.Background()))
	assert.Equal(t, client.StatusCompleted, up.Status())

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, progressEvents, 3)
	final := progressEvents[len(progressEvents)-1]
	assert.Equal(t, 3, final.ChunksCompleted)
	assert.Equal(t, 3, final.TotalChunks)
	last := up.Progress()
	assert.Equal(t, int64(2_500_000), last.BytesUploaded)
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, 3, last.ChunksCompleted)
	assert.Equal(t, 3, last.TotalChunks)
	assert.Contains(t, transitions, client.StatusUploading)
	assert.Equal(t, client.StatusCompleted, transitions[len(transitions)-1])

	// The artifact exists server-side.
	artifact := filepath.Join(backend.baseDir, up.UploadID()+".bin")
	info, err := os.Stat(artifact)
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000), info.Size())
}

func TestUploadWithChunkHashes(t *testing.T) {
	backend := newBackend(t)
	reader, file := testFile(600_000)

	up := client.NewUpload(backend.client(), reader, file, client.Options{
		ChunkHashes: true,
	})
	require.NoError(t, up.Start(context.Background()))
	assert.Equal(t, client.StatusCompleted, up.Status())
}

func TestInitHonorsDesiredChunkSize(t *testing.T) {
	backend := newBackend(t)

	session, err := backend.client().Init(context.Background(), client.InitRequest{
		FileName:         "data.bin",
		FileSize:         1_500_000,
		DesiredChunkSize: 500_000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), session.ChunkSize)
	assert.Equal(t, 3, session.TotalChunks)
}

func TestPumpBoundsConcurrency(t *testing.T) {
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	driver, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	service := upload.NewService(store, driver, upload.Config{})
	router := api.NewRouter(service, "")

	var mu sync.Mutex
	inFlight, peak := 0, 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
			defer func() {
				mu.Lock()
				inFlight--
				mu.Unlock()
			}()
			// Hold each chunk open long enough for overlap to show.
			time.Sleep(20 * time.Millisecond)
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	reader, file := testFile(2_500_000)
	up := client.NewUpload(client.NewClient(server.URL+"/torrin/uploads"), reader, file, client.Options{
		ChunkSize:      262_144,
		MaxConcurrency: 2,
	})
	require.NoError(t, up.Start(context.Background()))
	assert.Equal(t, client.StatusCompleted, up.Status())

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}

func TestUploadResumesFromServerState(t *testing.T) {
	backend := newBackend(t)
	wire := backend.client()
	ctx := context.Background()

	// A previous run created the session and uploaded chunk 0.
	session, err := wire.Init(ctx, client.InitRequest{FileName: "data.bin", FileSize: 2_500_000})
	require.NoError(t, err)

	data := make([]byte, 2_500_000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, wire.PutChunk(ctx, session.UploadID, 0, data[:1_000_000], ""))

	resumeDir := t.TempDir()
	store, err := client.NewFileResumeStore(resumeDir)
	require.NoError(t, err)

	reader, file := testFile(2_500_000)
	require.NoError(t, store.Save(&client.UploadState{
		UploadID:       session.UploadID,
		FileKey:        file.Key(),
		FileName:       file.Name,
		FileSize:       file.Size,
		ChunkSize:      session.ChunkSize,
		TotalChunks:    session.TotalChunks,
		ReceivedChunks: []int{0},
		UpdatedAt:      time.Now().UTC(),
	}))

	up := client.NewUpload(wire, reader, file, client.Options{ResumeStore: store})

	var mu sync.Mutex
	var sent []int
	up.OnProgress(func(ev client.ProgressEvent) {
		mu.Lock()
		sent = append(sent, ev.ChunkIndex)
		mu.Unlock()
	})

	require.NoError(t, up.Start(ctx))

	// The resumed run adopts the existing session and only sends the
	// missing chunks.
	assert.Equal(t, session.UploadID, up.UploadID())
	mu.Lock()
	assert.NotContains(t, sent, 0)
	assert.Len(t, sent, 2)
	mu.Unlock()

	// Completion evicts the resume state.
	state, err := store.Load(file.Key())
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestUploadReinitializesWhenSessionGone(t *testing.T) {
	backend := newBackend(t)
	store, err := client.NewFileResumeStore(t.TempDir())
	require.NoError(t, err)

	reader, file := testFile(600_000)
	require.NoError(t, store.Save(&client.UploadState{
		UploadID:    "u_gone",
		FileKey:     file.Key(),
		FileName:    file.Name,
		FileSize:    file.Size,
		ChunkSize:   600_000,
		TotalChunks: 1,
		UpdatedAt:   time.Now().UTC(),
	}))

	up := client.NewUpload(backend.client(), reader, file, client.Options{ResumeStore: store})
	require.NoError(t, up.Start(context.Background()))

	assert.Equal(t, client.StatusCompleted, up.Status())
	assert.NotEqual(t, "u_gone", up.UploadID())
}

func TestUploadCancel(t *testing.T) {
	backend := newBackend(t)
	wire := backend.client()
	ctx := context.Background()

	session, err := wire.Init(ctx, client.InitRequest{FileName: "data.bin", FileSize: 600_000})
	require.NoError(t, err)

	reader, file := testFile(600_000)
	up := client.NewUpload(wire, reader, file, client.Options{})

	// Cancel before Start: only local state flips.
	require.NoError(t, up.Cancel(ctx))
	assert.Equal(t, client.StatusCanceled, up.Status())

	// Server-side cancel through the wire client is idempotent.
	require.NoError(t, wire.Cancel(ctx, session.UploadID))
	require.NoError(t, wire.Cancel(ctx, session.UploadID))
	require.NoError(t, wire.Cancel(ctx, "u_never_existed"))
}

func TestUploadFailsOnTerminalServerError(t *testing.T) {
	backend := newBackend(t)
	wire := backend.client()
	ctx := context.Background()

	reader, file := testFile(600_000)
	up := client.NewUpload(wire, reader, file, client.Options{
		Retry: client.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	})

	// Sabotage: cancel the session as soon as it exists, so chunk PUTs hit
	// UPLOAD_CANCELED and the pump bails without retrying.
	unsubscribe := up.OnStatus(func(old, new client.UploadStatus) {
		if new == client.StatusUploading {
			_ = wire.Cancel(ctx, up.UploadID())
		}
	})
	defer unsubscribe()

	var errs []error
	up.OnError(func(err error) { errs = append(errs, err) })

	err := up.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, upload.CodeUploadCanceled, upload.CodeOf(err))
	assert.Equal(t, client.StatusFailed, up.Status())
	assert.NotEmpty(t, errs)
}

func TestWireClientUnparseableErrorBody(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer proxy.Close()

	wire := client.NewClient(proxy.URL)
	_, err := wire.Status(context.Background(), "u_x")
	assert.Equal(t, upload.CodeNetworkError, upload.CodeOf(err))
}

func TestWireClientConnectionRefused(t *testing.T) {
	wire := client.NewClient("http://127.0.0.1:1/torrin/uploads")
	_, err := wire.Status(context.Background(), "u_x")
	assert.Equal(t, upload.CodeNetworkError, upload.CodeOf(err))
}

func TestPauseResume(t *testing.T) {
	backend := newBackend(t)
	reader, file := testFile(2_500_000)

	up := client.NewUpload(backend.client(), reader, file, client.Options{
		MaxConcurrency: 1,
	})

	done := make(chan error, 1)
	paused := make(chan struct{})
	up.OnProgress(func(ev client.ProgressEvent) {
		if ev.ChunkIndex == 0 {
			up.Pause()
			close(paused)
		}
	})

	go func() { done <- up.Start(context.Background()) }()

	select {
	case <-paused:
	case <-time.After(5 * time.Second):
		t.Fatal("upload never reached the pause point")
	}
	assert.Equal(t, client.StatusPaused, up.Status())

	// The pump is parked; the upload must not finish while paused.
	select {
	case <-done:
		t.Fatal("upload finished while paused")
	case <-time.After(100 * time.Millisecond):
	}

	up.Resume()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("upload did not finish after resume")
	}
	assert.Equal(t, client.StatusCompleted, up.Status())
}

func TestResumeStateSavedAfterAcceptedChunks(t *testing.T) {
	backend := newBackend(t)
	store, err := client.NewFileResumeStore(t.TempDir())
	require.NoError(t, err)

	reader, file := testFile(3_000_000)
	up := client.NewUpload(backend.client(), reader, file, client.Options{
		ChunkSize:      262_144,
		MaxConcurrency: 1,
		ResumeStore:    store,
	})

	saved := make(chan struct{})
	var once sync.Once
	up.OnProgress(func(ev client.ProgressEvent) {
		if ev.ChunksCompleted == 10 {
			up.Pause()
			once.Do(func() { close(saved) })
		}
	})

	done := make(chan error, 1)
	go func() { done <- up.Start(context.Background()) }()

	select {
	case <-saved:
	case <-time.After(10 * time.Second):
		t.Fatal("upload never accepted ten chunks")
	}

	// Ten acknowledged chunks crossed the save interval; the snapshot on
	// disk already reflects all of them while the upload is still running.
	state, err := store.Load(file.Key())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Len(t, state.ReceivedChunks, 10)

	up.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("upload did not finish after resume")
	}
	assert.Equal(t, client.StatusCompleted, up.Status())
}
