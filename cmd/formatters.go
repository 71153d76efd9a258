package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"tdrf/core"
	"tdrf/detect"
	"tdrf/ingest"

	"github.com/fatih/color"
)

var severityOrder = []core.Severity{
	core.SeverityCritical,
	core.SeverityHigh,
	core.SeverityMedium,
	core.SeverityLow,
	core.SeverityInfo,
}

func severityColor(s core.Severity) *color.Color {
	switch s {
	case core.SeverityCritical:
		return color.New(color.FgWhite, color.BgRed, color.Bold)
	case core.SeverityHigh:
		return errorColor
	case core.SeverityMedium:
		return warningColor
	case core.SeverityLow:
		return infoColor
	default:
		return color.New(color.FgWhite)
	}
}

func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// renderAlert prints one alert on a single line.
func renderAlert(w io.Writer, a *core.Alert) {
	severityColor(a.Severity).Fprintf(w, "%-8s", a.Severity)
	fmt.Fprintf(w, " %s  %-24s %s\n", a.Timestamp.UTC().Format("2006-01-02 15:04:05"), a.AlertType, a.Description)
}

// replaySummary is the result of a replay run.
type replaySummary struct {
	Events     int                     `json:"events"`
	Skipped    int                     `json:"skipped"`
	Alerts     []*core.Alert           `json:"alerts"`
	BySeverity map[core.Severity]int   `json:"by_severity"`
	Engine     detect.EngineStatistics `json:"engine"`
}

func newReplaySummary(res ingest.FeedResult, alerts []*core.Alert, stats detect.EngineStatistics) replaySummary {
	s := replaySummary{
		Events:     res.Fed,
		Skipped:    res.Skipped,
		Alerts:     alerts,
		BySeverity: make(map[core.Severity]int),
		Engine:     stats,
	}
	if s.Alerts == nil {
		s.Alerts = []*core.Alert{}
	}
	for _, a := range alerts {
		s.BySeverity[a.Severity]++
	}
	return s
}

func renderReplaySummary(w io.Writer, s replaySummary) {
	if len(s.Alerts) == 0 {
		successColor.Fprintln(w, "No alerts")
	} else {
		headerColor.Fprintln(w, "ALERTS")
		headerColor.Fprintln(w, strings.Repeat("=", 100))
		for _, a := range s.Alerts {
			renderAlert(w, a)
		}
	}

	fmt.Fprintln(w)
	headerColor.Fprintln(w, "SUMMARY")
	headerColor.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "Events processed: %d\n", s.Events)
	if s.Skipped > 0 {
		warningColor.Fprintf(w, "Events skipped:   %d\n", s.Skipped)
	}
	fmt.Fprintf(w, "Alerts:           %d\n", len(s.Alerts))
	for _, sev := range severityOrder {
		if n := s.BySeverity[sev]; n > 0 {
			fmt.Fprint(w, "  ")
			severityColor(sev).Fprintf(w, "%-8s", sev)
			fmt.Fprintf(w, " %d\n", n)
		}
	}
	fmt.Fprintf(w, "Buffered events:  %d\n", s.Engine.EventsBuffered)
	fmt.Fprintf(w, "Unique sources:   %d\n", s.Engine.UniqueSources)
	fmt.Fprintf(w, "Unique targets:   %d\n", s.Engine.UniqueTargets)
	fmt.Fprintf(w, "Tracked login sources: %d (%d failed attempts)\n",
		s.Engine.BruteForce.TrackedSources, s.Engine.BruteForce.TotalFailedAttempts)
}

func renderRulesTable(w io.Writer, rules []detect.Rule) {
	if len(rules) == 0 {
		warningColor.Fprintln(w, "No rules configured")
		return
	}

	headerColor.Fprintln(w, "RULES")
	headerColor.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "%-32s %-20s %-10s %-8s %-6s %s\n", "Name", "Mode", "Severity", "Window", "Count", "Events")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, r := range rules {
		n := r.Normalize()
		fmt.Fprintf(w, "%-32s %-20s ", truncate(n.Name, 32), n.Mode)
		severityColor(core.Severity(n.Severity)).Fprintf(w, "%-10s", n.Severity)
		fmt.Fprintf(w, " %-8s %-6d %s\n", n.Window(), n.MinCount, strings.Join(n.Events, ","))
	}
	fmt.Fprintf(w, "\nTotal: %d rules\n", len(rules))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
