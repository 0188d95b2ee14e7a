package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/torrin/internal/cli/prompt"
)

var cancelForce bool

var cancelCmd = &cobra.Command{
	Use:   "cancel <upload-id>",
	Short: "Cancel an upload session",
	Long: `Cancel an upload session on the server and discard its staged chunks.

This action is irreversible. You will be prompted for confirmation
unless --force is specified.

Examples:
  # Cancel with confirmation
  torrinctl cancel u_mf3k2v8a1b2c3d4e

  # Cancel without confirmation
  torrinctl cancel u_mf3k2v8a1b2c3d4e --force`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	cancelCmd.Flags().BoolVarP(&cancelForce, "force", "f", false, "Skip confirmation prompt")
}

func runCancel(cmd *cobra.Command, args []string) error {
	uploadID := args[0]

	confirmed, err := prompt.ConfirmWithForce(
		fmt.Sprintf("Cancel upload %s and discard its chunks?", uploadID),
		cancelForce,
	)
	if err != nil {
		return err
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	if err := newWireClient().Cancel(cmd.Context(), uploadID); err != nil {
		return fmt.Errorf("failed to cancel upload: %w", err)
	}

	fmt.Printf("Upload %s cancelled\n", uploadID)
	return nil
}
