package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/recap/display"
	"github.com/teranos/recap/internal/util"
	"github.com/teranos/recap/pulse/async"
)

// JobsCmd inspects persisted summary jobs
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List and inspect summary jobs",
	Long: `List and inspect summary jobs stored in the database.

Examples:
  recap jobs                          # 20 most recent jobs
  recap jobs --status error           # Failed jobs only
  recap jobs --meeting standup-0612   # Jobs for one meeting
  recap jobs show <job-id>            # Full job with chunk outcomes
  recap jobs cleanup --older-than 72h # Remove old finished jobs`,
	RunE: runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished jobs older than the retention window",
	RunE:  runJobsCleanup,
}

func init() {
	JobsCmd.PersistentFlags().String("db", "", "Database path (overrides database.path)")
	JobsCmd.Flags().String("meeting", "", "Only jobs for this meeting")
	JobsCmd.Flags().String("status", "", "Only jobs with this status")
	JobsCmd.Flags().IntP("limit", "n", 20, "Maximum number of jobs")
	JobsCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	jobsCleanupCmd.Flags().Duration("older-than", 0, "Age threshold (default: summary.retention_days)")

	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsCleanupCmd)
}

// openStore opens the job store without starting a manager, so listing never
// marks in-flight jobs of a running server as interrupted
func openStore(cmd *cobra.Command) (*async.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	dbPath, _ := cmd.Flags().GetString("db")
	database, err := openDatabase(cfg, dbPath)
	if err != nil {
		return nil, nil, err
	}
	return async.NewStore(database), func() { database.Close() }, nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	store, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	filter := async.JobFilter{}
	filter.MeetingID, _ = cmd.Flags().GetString("meeting")
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		st, err := async.ParseStatus(s)
		if err != nil {
			return err
		}
		filter.Status = &st
	}

	jobs, err := store.ListJobs(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(cmd.OutOrStdout(), jobs)
	}
	if len(jobs) == 0 {
		pterm.Info.Println("No jobs found")
		return nil
	}

	rows := pterm.TableData{{"JOB", "MEETING", "STATUS", "PROGRESS", "PROVIDER", "CREATED", "ERROR"}}
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID,
			j.MeetingID,
			statusStyle(j.Status),
			fmt.Sprintf("%d/%d", j.Progress.Current, j.Progress.Total),
			j.Config.Provider,
			shortTime(&j.CreatedAt),
			util.Truncate(j.Error, 40),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	store, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	job, err := store.GetJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(cmd.OutOrStdout(), job)
	}

	pterm.DefaultSection.Printf("Job %s", job.ID)
	pterm.Printf("Meeting:  %s\n", job.MeetingID)
	pterm.Printf("Status:   %s\n", statusStyle(job.Status))
	pterm.Printf("Provider: %s %s\n", job.Config.Provider, job.Config.Model)
	pterm.Printf("Template: %s\n", job.Config.Template)
	pterm.Printf("Progress: %d/%d (%.0f%%)\n", job.Progress.Current, job.Progress.Total, job.Progress.Percentage())
	pterm.Printf("Created:  %s\n", shortTime(&job.CreatedAt))
	pterm.Printf("Started:  %s\n", shortTime(job.StartedAt))
	pterm.Printf("Finished: %s\n", shortTime(job.FinishedAt))
	if job.Error != "" {
		pterm.Error.Println(job.Error)
	}

	if len(job.Chunks) > 0 {
		rows := pterm.TableData{{"CHUNK", "SPAN", "ATTEMPTS", "DONE", "ERROR"}}
		for _, c := range job.Chunks {
			rows = append(rows, []string{
				fmt.Sprint(c.Index),
				fmt.Sprintf("%d-%d", c.Start, c.End),
				fmt.Sprint(c.Attempts),
				fmt.Sprint(c.Done),
				util.Truncate(c.Error, 50),
			})
		}
		pterm.Println()
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			return err
		}
	}

	if job.Result != nil {
		pterm.Println()
		renderSummary(cmd.OutOrStdout(), job.Result)
	}
	return nil
}

func runJobsCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan <= 0 {
		olderThan = cfg.Retention()
	}
	if olderThan <= 0 {
		return fmt.Errorf("no retention window: pass --older-than or set summary.retention_days")
	}

	store, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := store.Cleanup(cmd.Context(), olderThan)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Removed %d jobs finished more than %s ago\n", n, olderThan.Round(time.Minute))
	return nil
}
