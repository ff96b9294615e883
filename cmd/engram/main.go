// engram is the client CLI: an MCP stdio bridge for IDEs plus thin commands
// against the owner daemon.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "engram",
	Short:         "Local long-term memory for AI coding assistants",
	Long:          "engram stores code and conversation context with vector embeddings and serves\nsimilarity search to every assistant on this machine through one shared daemon.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		stdioCmd,
		saveCmd,
		searchCmd,
		historyCmd,
		projectsCmd,
		statsCmd,
		statusCmd,
		startCmd,
		stopCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
