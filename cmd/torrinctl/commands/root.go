// Package commands implements the torrinctl CLI commands.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/torrin/pkg/api"
	"github.com/marmos91/torrin/pkg/client"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	serverURL    string
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "torrinctl",
	Short: "Torrin upload client",
	Long: `Torrinctl uploads files to a Torrin server in resumable chunks.

Interrupted uploads pick up where they left off: torrinctl remembers the
session per file and asks the server which chunks it already has.

Use "torrinctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080"+api.DefaultBasePath, "Upload server base URL")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("torrinctl %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

// newWireClient returns a wire client for the configured server.
func newWireClient() *client.Client {
	return client.NewClient(serverURL)
}
