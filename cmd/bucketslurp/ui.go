package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ligustah/bucketslurp/internal/config"
	"github.com/ligustah/bucketslurp/internal/downloader"
	"github.com/ligustah/bucketslurp/internal/progress"
	"github.com/ligustah/bucketslurp/internal/provider"
)

// Color palette
const (
	colorTitle   = "81"
	colorLabel   = "245"
	colorOK      = "82"
	colorPartial = "214"
	colorFailed  = "203"
	colorMuted   = "240"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorTitle))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorLabel))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color(colorOK))
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorPartial))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorFailed))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorMuted)).
			Padding(0, 1)
)

func printBanner(w io.Writer, m provider.Module, buckets int, cfg config.Config) {
	mode := "download to " + cfg.Output
	if cfg.DryRun {
		mode = "dry run"
	}

	lines := []string{
		titleStyle.Render("bucketslurp"),
		labelStyle.Render("module:  ") + fmt.Sprintf("%s (%s)", m.Name, m.Code),
		labelStyle.Render("buckets: ") + fmt.Sprintf("%d", buckets),
		labelStyle.Render("threads: ") + fmt.Sprintf("%d", cfg.Threads),
		labelStyle.Render("mode:    ") + mode,
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

// resultStatus renders a one-word status for a bucket result.
func resultStatus(r downloader.Result) string {
	switch {
	case errors.Is(r.Err, downloader.ErrNoObjects):
		return mutedStyle.Render("empty")
	case r.Err != nil && r.Listed == 0:
		return failedStyle.Render("skipped")
	case r.Err != nil || r.Failed > 0:
		return partialStyle.Render("partial")
	default:
		return okStyle.Render("ok")
	}
}

func printSummary(w io.Writer, results []downloader.Result) {
	if len(results) == 0 {
		return
	}

	fmt.Fprintln(w, titleStyle.Render("Summary"))
	for _, r := range results {
		name := r.Bucket
		if name == "" {
			name = r.Target.URL
		}
		line := fmt.Sprintf("  %-8s %s  %s",
			resultStatus(r),
			name,
			labelStyle.Render(fmt.Sprintf("listed %d | downloaded %d | dir markers %d | failed %d | %s",
				r.Listed, r.Downloaded, r.Skipped, r.Failed, progress.FormatBytes(r.Stats.TotalSize))),
		)
		fmt.Fprintln(w, line)
		if r.Err != nil && !errors.Is(r.Err, downloader.ErrNoObjects) {
			fmt.Fprintln(w, "           "+mutedStyle.Render(r.Err.Error()))
		}
	}
}
