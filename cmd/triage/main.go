package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/comigor/triage-go/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Route student messages to the concepts and code-runner specialists",
	Long: `triage classifies each chat message as a concept question or a code
request, forwards it to the matching specialist and answers locally when the
specialist cannot.

Examples:
  triage serve
  triage classify "explain for loops in Python"
  triage fallback "what is a while loop"`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(fallbackCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.L.Error("command failed", "error", err)
		os.Exit(1)
	}
}
