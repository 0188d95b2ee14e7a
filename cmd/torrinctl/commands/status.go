package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/torrin/internal/cli/output"
	"github.com/marmos91/torrin/pkg/upload"
)

var statusCmd = &cobra.Command{
	Use:   "status <upload-id>",
	Short: "Show the status of an upload session",
	Long: `Show the server-side status of an upload session: how many chunks
have arrived and which are still missing.

Examples:
  # Show status as a table
  torrinctl status u_mf3k2v8a1b2c3d4e

  # Show status as JSON
  torrinctl status u_mf3k2v8a1b2c3d4e -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

// statusTable renders one upload status for table output.
type statusTable struct {
	status *upload.UploadStatus
}

// Headers implements TableRenderer.
func (s statusTable) Headers() []string {
	return []string{"UPLOAD ID", "STATUS", "FILE", "SIZE", "CHUNKS", "MISSING"}
}

// Rows implements TableRenderer.
func (s statusTable) Rows() [][]string {
	st := s.status
	return [][]string{{
		st.UploadID,
		string(st.Status),
		st.FileName,
		strconv.FormatInt(st.FileSize, 10),
		fmt.Sprintf("%d/%d", len(st.ReceivedChunks), st.TotalChunks),
		strconv.Itoa(len(st.MissingChunks)),
	}}
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	status, err := newWireClient().Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if format == output.FormatJSON {
		return output.PrintJSON(os.Stdout, status)
	}
	return output.PrintTable(os.Stdout, statusTable{status: status})
}
