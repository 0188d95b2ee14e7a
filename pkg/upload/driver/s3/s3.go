// Package s3 provides an S3-compatible StorageDriver built on multipart
// uploads. Each chunk maps to one part (part number = chunk index + 1), so
// the final object is assembled server-side by S3 with no local staging.
//
// Multipart state lives in memory keyed by upload id and is mirrored into
// the session metadata under "torrin.s3.*" keys, so a restarted server can
// reconstruct part ETags from the session record and still finalize.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/torrin/internal/logger"
	"github.com/marmos91/torrin/pkg/upload"
)

// Session metadata keys for multipart state mirroring.
const (
	metaMultipartID = "torrin.s3.multipartUploadId"
	metaObjectKey   = "torrin.s3.key"
	metaPartPrefix  = "torrin.s3.part."
)

// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "uploads/"

// S3API is the subset of the S3 client the driver uses. *s3.Client
// satisfies it; tests substitute a fake.
type S3API interface {
	CreateMultipartUpload(ctx context.Context, params *awss3.CreateMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *awss3.UploadPartInput, optFns ...func(*awss3.Options)) (*awss3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *awss3.CompleteMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *awss3.AbortMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error)
}

// multipartState tracks one in-flight multipart upload.
type multipartState struct {
	multipartID    string
	key            string
	completedParts []types.CompletedPart
	mu             sync.Mutex
}

// Config holds S3 driver options.
type Config struct {
	// Client is the configured S3 client.
	Client S3API

	// Bucket is the target bucket.
	Bucket string

	// KeyPrefix prefixes every object key. Default: "uploads/".
	KeyPrefix string

	// PatchSession, when set, mirrors multipart state into the session
	// metadata so finalize survives a server restart. Mirror failures are
	// logged, not fatal.
	PatchSession func(ctx context.Context, uploadID string, metadata map[string]string) error

	// ObjectKey overrides the default "<prefix><YYYY>/<MM>/<uploadId><ext>"
	// key layout.
	ObjectKey func(session *upload.Session) string
}

// Driver is an S3 multipart implementation of upload.StorageDriver.
type Driver struct {
	client       S3API
	bucket       string
	keyPrefix    string
	patchSession func(ctx context.Context, uploadID string, metadata map[string]string) error
	objectKey    func(session *upload.Session) string

	sessions   map[string]*multipartState
	sessionsMu sync.RWMutex
}

// New creates the driver.
func New(cfg Config) (*Driver, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}

	d := &Driver{
		client:       cfg.Client,
		bucket:       cfg.Bucket,
		keyPrefix:    cfg.KeyPrefix,
		patchSession: cfg.PatchSession,
		objectKey:    cfg.ObjectKey,
		sessions:     make(map[string]*multipartState),
	}
	if d.objectKey == nil {
		d.objectKey = d.defaultObjectKey
	}
	return d, nil
}

// defaultObjectKey lays keys out by creation month so bucket listings stay
// navigable: <prefix><YYYY>/<MM>/<uploadId><ext>.
func (d *Driver) defaultObjectKey(session *upload.Session) string {
	created := session.CreatedAt.UTC()
	return fmt.Sprintf("%s%04d/%02d/%s%s",
		d.keyPrefix, created.Year(), int(created.Month()),
		session.UploadID, filepath.Ext(session.FileName))
}

// InitUpload creates the S3 multipart upload and records its id.
func (d *Driver) InitUpload(ctx context.Context, session *upload.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := d.objectKey(session)

	input := &awss3.CreateMultipartUploadInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}
	if session.MimeType != "" {
		input.ContentType = aws.String(session.MimeType)
	}

	result, err := d.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}

	multipartID := aws.ToString(result.UploadId)
	if multipartID == "" {
		return upload.NewError(upload.CodeStorageError,
			"create multipart upload returned no upload id")
	}

	d.sessionsMu.Lock()
	d.sessions[session.UploadID] = &multipartState{
		multipartID:    multipartID,
		key:            key,
		completedParts: make([]types.CompletedPart, 0),
	}
	d.sessionsMu.Unlock()

	d.mirror(ctx, session.UploadID, map[string]string{
		metaMultipartID: multipartID,
		metaObjectKey:   key,
	})

	return nil
}

// WriteChunk buffers the chunk, verifies length and optional sha256, and
// uploads it as part index+1. Re-uploading an index replaces the recorded
// ETag, matching S3 part overwrite semantics.
func (d *Driver) WriteChunk(ctx context.Context, session *upload.Session, index int, body io.Reader, expected int64, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state, err := d.state(session)
	if err != nil {
		return err
	}

	// Parts are buffered in memory; the service caps chunk size at 100 MiB.
	buf := bytes.NewBuffer(make([]byte, 0, expected))
	written, err := io.Copy(buf, io.LimitReader(body, expected+1))
	if err != nil {
		return fmt.Errorf("failed to read chunk %d: %w", index, err)
	}
	if written != expected {
		return upload.ErrChunkSizeMismatch(expected, written)
	}

	if hash != "" {
		sum := sha256.Sum256(buf.Bytes())
		actual := hex.EncodeToString(sum[:])
		if actual != hash {
			return upload.ErrChunkHashMismatch(hash, actual)
		}
	}

	partNumber := int32(index + 1)
	result, err := d.client.UploadPart(ctx, &awss3.UploadPartInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(state.key),
		UploadId:   aws.String(state.multipartID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("failed to upload part %d: %w", partNumber, err)
	}

	state.mu.Lock()
	replaced := false
	for i := range state.completedParts {
		if aws.ToInt32(state.completedParts[i].PartNumber) == partNumber {
			state.completedParts[i].ETag = result.ETag
			replaced = true
			break
		}
	}
	if !replaced {
		state.completedParts = append(state.completedParts, types.CompletedPart{
			ETag:       result.ETag,
			PartNumber: aws.Int32(partNumber),
		})
	}
	state.mu.Unlock()

	d.mirror(ctx, session.UploadID, map[string]string{
		metaPartPrefix + strconv.Itoa(int(partNumber)): aws.ToString(result.ETag),
	})

	return nil
}

// FinalizeUpload completes the multipart upload from the recorded parts.
// Not idempotent: a second call fails because S3 forgets the multipart id.
func (d *Driver) FinalizeUpload(ctx context.Context, session *upload.Session) (*upload.StorageLocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state, err := d.state(session)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	completedParts := make([]types.CompletedPart, len(state.completedParts))
	copy(completedParts, state.completedParts)
	state.mu.Unlock()

	sort.Slice(completedParts, func(i, j int) bool {
		return aws.ToInt32(completedParts[i].PartNumber) < aws.ToInt32(completedParts[j].PartNumber)
	})

	result, err := d.client.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:   aws.String(d.bucket),
		Key:      aws.String(state.key),
		UploadId: aws.String(state.multipartID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	d.sessionsMu.Lock()
	delete(d.sessions, session.UploadID)
	d.sessionsMu.Unlock()

	return &upload.StorageLocation{
		Type:   "s3",
		Bucket: d.bucket,
		Key:    state.key,
		URL:    "s3://" + d.bucket + "/" + state.key,
		ETag:   aws.ToString(result.ETag),
	}, nil
}

// AbortUpload aborts the multipart upload. NoSuchUpload is tolerated so
// aborting twice, or after completion, is a no-op.
func (d *Driver) AbortUpload(ctx context.Context, session *upload.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state, err := d.state(session)
	if err != nil {
		// Nothing to abort when no multipart state was ever recorded.
		return nil
	}

	_, err = d.client.AbortMultipartUpload(ctx, &awss3.AbortMultipartUploadInput{
		Bucket:   aws.String(d.bucket),
		Key:      aws.String(state.key),
		UploadId: aws.String(state.multipartID),
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if !errors.As(err, &noSuchUpload) {
			return fmt.Errorf("failed to abort multipart upload: %w", err)
		}
	}

	d.sessionsMu.Lock()
	delete(d.sessions, session.UploadID)
	d.sessionsMu.Unlock()

	return nil
}

// state returns the in-memory multipart state, rebuilding it from the
// session metadata mirror after a restart.
func (d *Driver) state(session *upload.Session) (*multipartState, error) {
	d.sessionsMu.RLock()
	state, ok := d.sessions[session.UploadID]
	d.sessionsMu.RUnlock()
	if ok {
		return state, nil
	}

	rebuilt, err := rebuildState(session)
	if err != nil {
		return nil, err
	}

	d.sessionsMu.Lock()
	// Another goroutine may have rebuilt it first.
	if existing, ok := d.sessions[session.UploadID]; ok {
		rebuilt = existing
	} else {
		d.sessions[session.UploadID] = rebuilt
	}
	d.sessionsMu.Unlock()

	return rebuilt, nil
}

// rebuildState reconstructs multipart state from the "torrin.s3.*" metadata
// mirror.
func rebuildState(session *upload.Session) (*multipartState, error) {
	multipartID := session.Metadata[metaMultipartID]
	key := session.Metadata[metaObjectKey]
	if multipartID == "" || key == "" {
		return nil, fmt.Errorf("no multipart state for upload %s", session.UploadID)
	}

	state := &multipartState{
		multipartID:    multipartID,
		key:            key,
		completedParts: make([]types.CompletedPart, 0),
	}

	for metaKey, etag := range session.Metadata {
		if !strings.HasPrefix(metaKey, metaPartPrefix) {
			continue
		}
		partNumber, err := strconv.Atoi(strings.TrimPrefix(metaKey, metaPartPrefix))
		if err != nil {
			return nil, fmt.Errorf("malformed part metadata key %q: %w", metaKey, err)
		}
		state.completedParts = append(state.completedParts, types.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: aws.Int32(int32(partNumber)),
		})
	}

	return state, nil
}

// mirror writes multipart state into the session metadata, best effort.
func (d *Driver) mirror(ctx context.Context, uploadID string, metadata map[string]string) {
	if d.patchSession == nil {
		return
	}
	if err := d.patchSession(ctx, uploadID, metadata); err != nil {
		logger.Warn("failed to mirror multipart state into session",
			"upload_id", uploadID, "error", err)
	}
}

var _ upload.StorageDriver = (*Driver)(nil)
