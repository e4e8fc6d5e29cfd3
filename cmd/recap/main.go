package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/recap/cmd/recap/commands"
	"github.com/teranos/recap/logger"
)

var rootCmd = &cobra.Command{
	Use:   "recap",
	Short: "recap - meeting transcript summarization",
	Long: `recap - turn meeting transcripts into structured notes.

Transcripts are split into overlapping chunks, each chunk is summarized by an
LLM provider (local runtime, OpenRouter, OpenAI, Groq, Anthropic or Gemini)
and the partial notes are merged into one summary per meeting.

Available commands:
  serve      - Start the HTTP status API and job manager
  summarize  - Summarize a transcript file in-process
  jobs       - Inspect persisted summary jobs
  am         - Show and validate configuration ("I am")
  version    - Show version information

Examples:
  recap serve                              # Start the API on :8178
  recap summarize standup.txt --meeting m1 # Summarize one transcript
  recap jobs --status error                # List failed jobs
  recap am show                            # Show current configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		verbose, _ := cmd.Flags().GetCount("verbose")

		var err error
		if verbose > 0 {
			err = logger.InitializeWithLevel(jsonLogs, zapcore.DebugLevel)
		} else {
			err = logger.Initialize(jsonLogs) // RECAP_LOG_LEVEL or info
		}
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.SummarizeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
