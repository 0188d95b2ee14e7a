// Package local provides a filesystem StorageDriver. Chunks are staged as
// individual files and concatenated into the final artifact on finalize.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/marmos91/torrin/internal/logger"
	"github.com/marmos91/torrin/pkg/upload"
)

// Config holds local driver options.
type Config struct {
	// BaseDir is where finalized artifacts land.
	BaseDir string

	// TempDir is the chunk staging area. Default: <BaseDir>/.staging.
	TempDir string

	// PreserveFileName places the artifact at <BaseDir>/<uploadId>/<fileName>
	// instead of <BaseDir>/<uploadId><ext>.
	PreserveFileName bool
}

// Driver is a local filesystem implementation of upload.StorageDriver.
type Driver struct {
	baseDir          string
	tempDir          string
	preserveFileName bool
}

// New creates the driver, making sure both directories exist.
func New(cfg Config) (*Driver, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(cfg.BaseDir, ".staging")
	}

	for _, dir := range []string{cfg.BaseDir, cfg.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return &Driver{
		baseDir:          cfg.BaseDir,
		tempDir:          cfg.TempDir,
		preserveFileName: cfg.PreserveFileName,
	}, nil
}

// stagingDir is the per-session chunk directory.
func (d *Driver) stagingDir(uploadID string) string {
	return filepath.Join(d.tempDir, uploadID)
}

// chunkPath zero-pads the index so lexicographic directory order matches
// chunk order.
func (d *Driver) chunkPath(uploadID string, index int) string {
	return filepath.Join(d.stagingDir(uploadID), fmt.Sprintf("chunk_%06d", index))
}

// finalPath is where the assembled artifact lands.
func (d *Driver) finalPath(session *upload.Session) string {
	if d.preserveFileName && session.FileName != "" {
		return filepath.Join(d.baseDir, session.UploadID, filepath.Base(session.FileName))
	}
	return filepath.Join(d.baseDir, session.UploadID+filepath.Ext(session.FileName))
}

// InitUpload creates the session's staging directory.
func (d *Driver) InitUpload(ctx context.Context, session *upload.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(d.stagingDir(session.UploadID), 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	return nil
}

// WriteChunk streams the chunk to its staging file, verifying length and,
// when supplied, the sha256 digest. A failed write leaves no partial file
// behind, so a retry of the same index starts clean.
func (d *Driver) WriteChunk(ctx context.Context, session *upload.Session, index int, body io.Reader, expected int64, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := d.chunkPath(session.UploadID, index)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}

	hasher := sha256.New()
	// Read one byte past expected so an overlong body is detected.
	written, err := io.Copy(io.MultiWriter(file, hasher), io.LimitReader(body, expected+1))
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to write chunk %d: %w", index, err)
	}

	if written != expected {
		_ = os.Remove(path)
		return upload.ErrChunkSizeMismatch(expected, written)
	}

	if hash != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if actual != hash {
			_ = os.Remove(path)
			return upload.ErrChunkHashMismatch(hash, actual)
		}
	}

	return nil
}

// FinalizeUpload concatenates the staged chunks into the final artifact and
// removes the staging directory. The artifact is written to a temp file and
// renamed into place, so readers never see a half-assembled file.
func (d *Driver) FinalizeUpload(ctx context.Context, session *upload.Session) (*upload.StorageLocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	staging := d.stagingDir(session.UploadID)
	entries, err := os.ReadDir(staging)
	if err != nil {
		return nil, fmt.Errorf("failed to read staging directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	if len(names) != session.TotalChunks {
		return nil, fmt.Errorf("staging has %d chunks, session expects %d", len(names), session.TotalChunks)
	}

	final := d.finalPath(session)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	partial := final + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact: %w", err)
	}

	var total int64
	for _, name := range names {
		n, err := appendChunk(out, filepath.Join(staging, name))
		if err != nil {
			out.Close()
			_ = os.Remove(partial)
			return nil, err
		}
		total += n
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("failed to close artifact: %w", err)
	}

	if total != session.FileSize {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("assembled %d bytes, session expects %d", total, session.FileSize)
	}

	if err := os.Rename(partial, final); err != nil {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("failed to move artifact into place: %w", err)
	}

	if err := os.RemoveAll(staging); err != nil {
		logger.Warn("failed to remove staging directory",
			"upload_id", session.UploadID, "error", err)
	}

	return &upload.StorageLocation{Type: "local", Path: final}, nil
}

// AbortUpload removes the staging directory. Missing staging is not an error.
func (d *Driver) AbortUpload(ctx context.Context, session *upload.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.RemoveAll(d.stagingDir(session.UploadID)); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	return nil
}

func appendChunk(out io.Writer, path string) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open chunk %s: %w", filepath.Base(path), err)
	}
	defer in.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, fmt.Errorf("failed to append chunk %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

var _ upload.StorageDriver = (*Driver)(nil)
