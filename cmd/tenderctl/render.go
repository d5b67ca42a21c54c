package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/licitaciones/platform/pkg/common/models"
	"github.com/licitaciones/platform/pkg/ingestion"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D787")).Bold(true)
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF005F")).Bold(true)
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Italic(true)
	cellStyle    = lipgloss.NewStyle().PaddingRight(2)
)

func outcomeStyle(o models.Outcome) lipgloss.Style {
	switch o {
	case models.OutcomeSuccess:
		return successStyle
	case models.OutcomePartial, models.OutcomeInterrupted:
		return partialStyle
	case models.OutcomeFailed:
		return errorStyle
	}
	return hintStyle
}

func formatTime(t *time.Time, now time.Time) string {
	if t == nil {
		return "-"
	}
	local := t.In(now.Location())
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("2006-01-02 15:04")
}

// table lays rows out in padded columns; widths ignore ANSI styling.
func table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	line := func(cells []string, style func(string) string) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = cellStyle.Width(widths[i] + 2).Render(style(c))
		}
		b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, parts...), " "))
		b.WriteString("\n")
	}
	line(header, func(s string) string { return headerStyle.Render(s) })
	for _, row := range rows {
		line(row, func(s string) string { return s })
	}
	return b.String()
}

func renderStatus(rows []models.SourceStatus, stored map[string]int64, now time.Time) string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		enabled := "yes"
		if !r.Enabled {
			enabled = hintStyle.Render("no")
		}
		outcome := "-"
		if r.State.LastOutcome != "" {
			outcome = outcomeStyle(r.State.LastOutcome).Render(string(r.State.LastOutcome))
		}
		out = append(out, []string{
			r.Source,
			enabled,
			r.Policy,
			formatTime(r.State.LastRunAt, now),
			outcome,
			formatTime(r.NextEligible, now),
			fmt.Sprintf("%d", stored[r.Source]),
		})
	}
	s := table([]string{"SOURCE", "ENABLED", "SCHEDULE", "LAST RUN", "OUTCOME", "NEXT", "STORED"}, out)
	for _, r := range rows {
		if r.State.LastError != "" {
			s += errorStyle.Render(r.Source+": ") + r.State.LastError + "\n"
		}
	}
	return s
}

func renderJobs(jobs []models.Job) string {
	if len(jobs) == 0 {
		return hintStyle.Render("no source is due") + "\n"
	}
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{j.Source, string(j.Mode)})
	}
	return table([]string{"SOURCE", "MODE"}, rows)
}

func renderResults(results []models.RunResult) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		outcome := outcomeStyle(r.Outcome).Render(string(r.Outcome))
		if r.Skipped {
			outcome = hintStyle.Render("skipped")
		}
		rows = append(rows, []string{
			r.Source,
			string(r.Mode),
			outcome,
			fmt.Sprintf("%d", r.Stats.Artifacts),
			fmt.Sprintf("%d", r.Stats.Extracted),
			fmt.Sprintf("%d", r.Stats.Inserted),
			fmt.Sprintf("%d", r.Stats.Updated),
			fmt.Sprintf("%d", r.Stats.Duplicates),
			fmt.Sprintf("%d", r.Stats.ParseFailures),
		})
	}
	s := table([]string{"SOURCE", "MODE", "OUTCOME", "ARTIFACTS", "EXTRACTED", "INSERTED", "UPDATED", "DUPLICATES", "FAILURES"}, rows)
	for _, r := range results {
		if r.Error != "" && !r.Skipped {
			s += errorStyle.Render(r.Source+": ") + r.Error + "\n"
		}
	}
	return s
}

func renderHistory(runs []ingestion.RunRecord) string {
	if len(runs) == 0 {
		return hintStyle.Render("no runs recorded") + "\n"
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		var stats models.RunStats
		_ = json.Unmarshal(r.Stats, &stats)
		rows = append(rows, []string{
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Source,
			r.Mode,
			r.Trigger,
			outcomeStyle(models.Outcome(r.Outcome)).Render(r.Outcome),
			fmt.Sprintf("%d", stats.Inserted),
			fmt.Sprintf("%d", stats.ParseFailures),
		})
	}
	return table([]string{"STARTED", "SOURCE", "MODE", "TRIGGER", "OUTCOME", "INSERTED", "FAILURES"}, rows)
}
