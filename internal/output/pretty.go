package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jaxxstorm/hopwatch/internal/model"
	"github.com/jaxxstorm/hopwatch/internal/pipeline"
)

func RenderPretty(result pipeline.Result) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Render("hopwatch " + result.Target)
	hopStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	successStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	failureStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	flagged := map[int]model.FindingKind{}
	for _, f := range result.Classification.Findings {
		flagged[f.HopNumber] = f.Kind
	}

	lines := []string{title, ""}
	if result.ParseError != "" {
		lines = append(lines, warnStyle.Render("input truncated: "+result.ParseError), "")
	}
	for _, hop := range result.Hops {
		status := successStyle.Render("OK  ")
		switch {
		case flagged[hop.HopNumber] == model.FindingHighLatency:
			status = warnStyle.Render("SLOW")
		case flagged[hop.HopNumber] == model.FindingTimeout:
			status = failureStyle.Render("LOST")
		case hop.TimedOut:
			status = failureStyle.Render("*   ")
		}

		name := hop.DisplayName()
		if hop.Hostname != "" && hop.Address != "" {
			name = fmt.Sprintf("%s (%s)", hop.Hostname, hop.Address)
		}
		line := fmt.Sprintf("%s %02d %s", status, hop.HopNumber, name)
		if hop.HasLatency() {
			line += fmt.Sprintf(" %.3f ms", *hop.LatencyMs)
		}
		lines = append(lines, hopStyle.Render(line))
	}

	lines = append(lines, "")
	lines = append(lines, statsLine(result.Classification.Stats))

	c := result.Classification
	if !c.Anomalous() {
		lines = append(lines, successStyle.Render("HEALTHY no anomalies"))
	} else {
		lines = append(lines, failureStyle.Render(fmt.Sprintf("ANOMALY %s at hop %d", c.IssueKind, c.ProblemHop)))
		for _, f := range c.Findings {
			lines = append(lines, "- "+describeFinding(f))
		}
	}

	switch {
	case result.EventID != "":
		line := "event " + result.EventID
		if result.Summary != nil && result.Summary.Skipped > 0 {
			line += fmt.Sprintf(" (%d hop rows skipped)", result.Summary.Skipped)
		}
		lines = append(lines, line)
	case result.LoggingError != "":
		lines = append(lines, warnStyle.Render("event not recorded: "+result.LoggingError))
	}

	return strings.Join(lines, "\n")
}

func statsLine(stats model.RunStats) string {
	mean := "n/a"
	if stats.MeanLatencyMs != nil {
		mean = fmt.Sprintf("%.2f ms", *stats.MeanLatencyMs)
	}
	return fmt.Sprintf("mean latency %s, loss %.2f%%", mean, stats.LossPct)
}

func describeFinding(f model.AnomalyFinding) string {
	switch f.Kind {
	case model.FindingHighLatency:
		return fmt.Sprintf("hop %d latency %.3f ms exceeds %.0f ms", f.HopNumber, *f.Value, f.Threshold)
	case model.FindingTimeout:
		return fmt.Sprintf("hop %d stopped answering before the destination", f.HopNumber)
	default:
		return fmt.Sprintf("hop %d %s", f.HopNumber, f.Kind)
	}
}
