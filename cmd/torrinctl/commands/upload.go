package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/torrin/internal/bytesize"
	"github.com/marmos91/torrin/pkg/client"
)

var (
	uploadChunkSize   string
	uploadConcurrency int
	uploadNoResume    bool
	uploadHashes      bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file in resumable chunks",
	Long: `Upload a file to the Torrin server.

The upload runs in fixed-size chunks with bounded concurrency. Progress is
saved locally, so rerunning the command after an interruption resumes the
same session and only sends the missing chunks. Press Ctrl+C to stop; the
session stays on the server until it expires or is cancelled.

Examples:
  # Upload with defaults (1Mi chunks, 3 parallel requests)
  torrinctl upload video.mp4

  # Upload with bigger chunks and more parallelism
  torrinctl upload video.mp4 --chunk-size 8Mi --concurrency 6

  # Upload with per-chunk integrity hashes
  torrinctl upload video.mp4 --hash

  # Start over instead of resuming a previous attempt
  torrinctl upload video.mp4 --no-resume`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadChunkSize, "chunk-size", "", "Chunk size, e.g. 4Mi (default: server-chosen)")
	uploadCmd.Flags().IntVarP(&uploadConcurrency, "concurrency", "c", 0, "Parallel chunk uploads (default 3, max 10)")
	uploadCmd.Flags().BoolVar(&uploadNoResume, "no-resume", false, "Ignore saved progress and start a fresh session")
	uploadCmd.Flags().BoolVar(&uploadHashes, "hash", false, "Send a sha256 digest with every chunk")
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	opts := client.Options{
		MaxConcurrency: uploadConcurrency,
		ChunkHashes:    uploadHashes,
	}

	if uploadChunkSize != "" {
		size, err := bytesize.Parse(uploadChunkSize)
		if err != nil {
			return fmt.Errorf("invalid chunk size: %w", err)
		}
		opts.ChunkSize = size.Int64()
	}

	if !uploadNoResume {
		store, err := client.NewFileResumeStore("")
		if err != nil {
			return fmt.Errorf("failed to open resume state: %w", err)
		}
		opts.ResumeStore = store
	}

	up := client.NewUpload(newWireClient(), file, client.FileInfo{
		Name:         filepath.Base(path),
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, opts)

	up.OnProgress(func(ev client.ProgressEvent) {
		fmt.Printf("\r%3d%%  %s / %s  (%s)",
			ev.Percent,
			bytesize.ByteSize(ev.BytesUploaded),
			bytesize.ByteSize(ev.TotalBytes),
			ev.UploadID,
		)
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted, progress saved. Rerun the command to resume.")
		cancel()
	}()

	if err := up.Start(ctx); err != nil {
		fmt.Println()
		return err
	}

	fmt.Printf("\nUpload complete: %s\n", up.UploadID())
	return nil
}
