package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/recap/display"
	"github.com/teranos/recap/errors"
	"github.com/teranos/recap/logger"
	"github.com/teranos/recap/pulse/async"
)

// SummarizeCmd runs one summary job in-process and prints the result
var SummarizeCmd = &cobra.Command{
	Use:   "summarize [file]",
	Short: "Summarize a transcript file",
	Long: `Summarize a transcript in-process and print the merged notes.

The transcript is read from the file argument, or from stdin when no file is
given or the argument is "-". The job is persisted like any API job.

Do not point this at the database of a running 'recap serve': startup marks
every in-flight job in that database as interrupted.

Examples:
  recap summarize standup.txt --meeting standup-0612
  cat call.txt | recap summarize --meeting call-7 --provider openrouter
  recap summarize notes.txt --meeting m1 --template brief --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSummarize,
}

func init() {
	SummarizeCmd.Flags().String("meeting", "", "Meeting id the summary belongs to (required)")
	SummarizeCmd.Flags().String("provider", "", "Provider: local, openrouter, openai, groq, anthropic, gemini")
	SummarizeCmd.Flags().String("model", "", "Model override for the provider")
	SummarizeCmd.Flags().String("template", "", "Section template: standard_meeting, daily_standup, brief")
	SummarizeCmd.Flags().String("prompt", "", "Custom instructions appended to the chunk prompt")
	SummarizeCmd.Flags().Int("chunk-size", 0, "Chunk size in characters (overrides summary.chunk_size)")
	SummarizeCmd.Flags().Int("overlap", -1, "Chunk overlap in characters (overrides summary.overlap)")
	SummarizeCmd.Flags().String("db", "", "Database path (overrides database.path)")
	SummarizeCmd.Flags().Bool("json", false, "Print the finished job as JSON")
	_ = SummarizeCmd.MarkFlagRequired("meeting")
}

func runSummarize(cmd *cobra.Command, args []string) error {
	text, err := readTranscript(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPath, _ := cmd.Flags().GetString("db")
	p, err := newPipeline(ctx, cfg, dbPath, logger.Logger)
	if err != nil {
		return err
	}
	defer p.Close()

	req := async.SubmitRequest{Text: text}
	req.MeetingID, _ = cmd.Flags().GetString("meeting")
	req.Provider, _ = cmd.Flags().GetString("provider")
	req.Model, _ = cmd.Flags().GetString("model")
	req.Template, _ = cmd.Flags().GetString("template")
	req.CustomPrompt, _ = cmd.Flags().GetString("prompt")
	if n, _ := cmd.Flags().GetInt("chunk-size"); n > 0 {
		req.ChunkSize = &n
	}
	if n, _ := cmd.Flags().GetInt("overlap"); n >= 0 {
		req.Overlap = &n
	}
	jsonOutput := display.ShouldOutputJSON(cmd)

	updates := p.manager.Subscribe()
	defer p.manager.Unsubscribe(updates)

	jobID, err := p.manager.Submit(ctx, req)
	if err != nil {
		return err
	}

	var spinner *pterm.SpinnerPrinter
	if !jsonOutput {
		spinner, _ = pterm.DefaultSpinner.Start(fmt.Sprintf("Summarizing %s...", req.MeetingID))
		go followProgress(spinner, updates, jobID)
	}

	job, err := p.manager.Wait(ctx, jobID)
	if err != nil {
		if spinner != nil {
			spinner.Fail("Interrupted")
		}
		if errors.Is(err, ctx.Err()) {
			if _, cerr := p.manager.Cancel(cmd.Context(), jobID); cerr != nil {
				logger.Warnw("Failed to cancel job", logger.FieldJobID, jobID, logger.FieldError, cerr)
			}
		}
		return err
	}

	if jsonOutput {
		return display.OutputJSON(cmd.OutOrStdout(), job)
	}

	switch job.Status {
	case async.JobStatusCompleted:
		spinner.Success(fmt.Sprintf("Summarized %d chunks (job %s)", job.Progress.Total, job.ID))
		pterm.Println()
		renderSummary(cmd.OutOrStdout(), job.Result)
		return nil
	case async.JobStatusCancelled:
		spinner.Warning(fmt.Sprintf("Job %s cancelled: %s", job.ID, job.Error))
		return nil
	default:
		spinner.Fail(fmt.Sprintf("Job %s failed", job.ID))
		return errors.Newf("summary failed: %s", job.Error)
	}
}

// followProgress updates the spinner text until the job is terminal
func followProgress(spinner *pterm.SpinnerPrinter, updates <-chan *async.Job, jobID string) {
	for job := range updates {
		if job.ID != jobID {
			continue
		}
		if job.Status.IsTerminal() {
			return
		}
		if job.Progress.Total > 0 {
			spinner.UpdateText(fmt.Sprintf("Summarizing %s... chunk %d/%d",
				job.MeetingID, job.Progress.Current, job.Progress.Total))
		}
	}
}

func readTranscript(cmd *cobra.Command, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read transcript")
	}
	return string(data), nil
}
