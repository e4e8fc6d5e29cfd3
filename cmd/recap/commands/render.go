package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/recap/pulse/async"
	"github.com/teranos/recap/summary"
)

// renderSummary writes sections in order as plain text blocks
func renderSummary(w io.Writer, sum *summary.Summary) {
	for _, key := range sum.Order {
		sec := sum.Sections[key]
		if sec == nil {
			continue
		}
		title := sec.Title
		if title == "" {
			title = key
		}
		fmt.Fprintln(w, pterm.Bold.Sprint(title))
		for _, b := range sec.Blocks {
			fmt.Fprintln(w, renderBlock(b))
		}
		fmt.Fprintln(w)
	}
}

func renderBlock(b summary.Block) string {
	switch b.Type {
	case "heading1", "heading2":
		return "  " + pterm.Underscore.Sprint(b.Content)
	case "todo":
		return "  [ ] " + b.Content
	case "text":
		return "  " + b.Content
	default:
		return "  • " + b.Content
	}
}

func statusStyle(s async.JobStatus) string {
	switch s {
	case async.JobStatusCompleted:
		return pterm.FgGreen.Sprint(s)
	case async.JobStatusError:
		return pterm.FgRed.Sprint(s)
	case async.JobStatusCancelled:
		return pterm.FgYellow.Sprint(s)
	default:
		return pterm.FgCyan.Sprint(s)
	}
}

func shortTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
