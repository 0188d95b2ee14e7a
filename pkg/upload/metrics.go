package upload

import "time"

// Metrics collects upload engine metrics. A nil Metrics disables collection
// with zero overhead; the service nil-checks before every call.
//
// The Prometheus-backed implementation lives in pkg/metrics.
type Metrics interface {
	// ObserveOperation records the duration and outcome of one service
	// operation (init, chunk, status, complete, abort, cleanup).
	ObserveOperation(op string, d time.Duration, err error)

	// RecordChunkBytes records bytes accepted by handleChunk.
	RecordChunkBytes(n int64)

	// RecordActiveSessions adjusts the active (non-terminal) session gauge.
	RecordActiveSessions(delta int)

	// RecordSession counts a session lifecycle event: created, completed,
	// canceled or expired.
	RecordSession(event string)
}
