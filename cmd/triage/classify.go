package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/comigor/triage-go/internal/fallback"
	"github.com/comigor/triage-go/internal/intent"
)

var classifyScores bool

var classifyCmd = &cobra.Command{
	Use:   "classify <message>",
	Short: "Print the intent a message would be routed with",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassify,
}

var fallbackCmd = &cobra.Command{
	Use:   "fallback <message>",
	Short: "Print the local answer used when the specialist is unavailable",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFallback,
}

func init() {
	classifyCmd.Flags().BoolVarP(&classifyScores, "scores", "s", false, "also print the concept and code scores")
}

func runClassify(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, intent.Classify(text))
	if classifyScores {
		concept, code := intent.Scores(text)
		fmt.Fprintf(out, "concept=%d code=%d\n", concept, code)
	}
	return nil
}

func runFallback(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	fmt.Fprintln(cmd.OutOrStdout(), fallback.Answer(intent.Classify(text), text))
	return nil
}
