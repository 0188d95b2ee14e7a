package client

import (
	"sort"
	"sync"
)

// ProgressEvent reports upload progress after each accepted chunk.
type ProgressEvent struct {
	UploadID        string
	ChunkIndex      int
	BytesUploaded   int64
	TotalBytes      int64
	Percent         int
	ChunksCompleted int
	TotalChunks     int
}

// ProgressListener receives progress events.
type ProgressListener func(ProgressEvent)

// StatusListener receives status transitions.
type StatusListener func(old, new UploadStatus)

// ErrorListener receives terminal and retryable errors.
type ErrorListener func(err error)

// emitter dispatches events synchronously, in registration order, on the
// goroutine that produced the event. Listeners must not block.
type emitter struct {
	mu       sync.Mutex
	nextID   int
	progress map[int]ProgressListener
	status   map[int]StatusListener
	errs     map[int]ErrorListener
}

func newEmitter() *emitter {
	return &emitter{
		progress: make(map[int]ProgressListener),
		status:   make(map[int]StatusListener),
		errs:     make(map[int]ErrorListener),
	}
}

// onProgress registers a listener and returns its unsubscribe function.
func (e *emitter) onProgress(fn ProgressListener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.progress[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.progress, id)
		e.mu.Unlock()
	}
}

func (e *emitter) onStatus(fn StatusListener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.status[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.status, id)
		e.mu.Unlock()
	}
}

func (e *emitter) onError(fn ErrorListener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.errs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.errs, id)
		e.mu.Unlock()
	}
}

func (e *emitter) emitProgress(event ProgressEvent) {
	for _, fn := range e.snapshotProgress() {
		fn(event)
	}
}

func (e *emitter) emitStatus(old, new UploadStatus) {
	e.mu.Lock()
	ids := sortedKeys(e.status)
	listeners := make([]StatusListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, e.status[id])
	}
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(old, new)
	}
}

func (e *emitter) emitError(err error) {
	e.mu.Lock()
	ids := sortedKeys(e.errs)
	listeners := make([]ErrorListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, e.errs[id])
	}
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
}

func (e *emitter) snapshotProgress() []ProgressListener {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := sortedKeys(e.progress)
	listeners := make([]ProgressListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, e.progress[id])
	}
	return listeners
}

// sortedKeys returns map keys in ascending order so dispatch follows
// registration order.
func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
