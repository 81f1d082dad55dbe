package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/lattice-recipes/internal/adapter"
	"github.com/kingrea/lattice-recipes/internal/diag"
	"github.com/kingrea/lattice-recipes/internal/eventstream"
	"github.com/kingrea/lattice-recipes/internal/workflow/engine"
)

var (
	headStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	bodyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#98C379"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

func renderExplanation(ex engine.Explanation) string {
	var lines []string
	lines = append(lines, headStyle.Render("recipe "+ex.Recipe.Name))
	if ex.Recipe.Description != "" {
		lines = append(lines, bodyStyle.Render(ex.Recipe.Description))
	}
	lines = append(lines,
		field("fingerprint", ex.Fingerprint),
		field("plugins", strings.Join(ex.Plugins, ", ")),
		field("packs", strings.Join(ex.Packs, ", ")),
		"",
		headStyle.Render("steps"),
	)
	for _, s := range ex.Steps {
		line := fmt.Sprintf("%2d  %s", s.Index, s.Name)
		if len(s.DependsOn) > 0 {
			line += labelStyle.Render("  after " + strings.Join(s.DependsOn, ", "))
		}
		lines = append(lines, bodyStyle.Render(line))
	}
	if len(ex.Providers) > 0 {
		lines = append(lines, "", headStyle.Render("adapters"))
		kinds := make([]string, 0, len(ex.Providers))
		for kind := range ex.Providers {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			lines = append(lines, field(kind, ex.Providers[adapter.Kind(kind)]))
		}
	}
	if resolved := ex.Capabilities.Resolved.Names(); len(resolved) > 0 {
		lines = append(lines, "", field("capabilities", strings.Join(resolved, ", ")))
	}
	body := boxStyle.Render(strings.Join(lines, "\n"))
	if len(ex.Diagnostics) == 0 {
		return body
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, renderDiagnostics(ex.Diagnostics))
}

func renderOutcome(out engine.Outcome) string {
	var lines []string
	switch out.Status {
	case engine.StatusOK:
		lines = append(lines, okStyle.Render("completed"))
	case engine.StatusPaused:
		lines = append(lines, warnStyle.Render("paused"))
		lines = append(lines, field("token", out.Token))
		if out.Snapshot != nil {
			lines = append(lines, field("step", out.Snapshot.Step))
			if out.Snapshot.Reason != "" {
				lines = append(lines, field("reason", out.Snapshot.Reason))
			}
		}
	default:
		lines = append(lines, errorStyle.Render("failed"))
		if out.Err != nil {
			lines = append(lines, field("error", out.Err.Error()))
		}
	}
	lines = append(lines, field("run", out.RunID))
	if keys := out.Artifact.Keys(); len(keys) > 0 {
		lines = append(lines, "", headStyle.Render("artifact"))
		for _, key := range keys {
			lines = append(lines, field(key, fmt.Sprint(out.Artifact[key])))
		}
	}
	body := boxStyle.Render(strings.Join(lines, "\n"))
	if len(out.Diagnostics) == 0 {
		return body
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, renderDiagnostics(out.Diagnostics))
}

func renderDiagnostics(entries diag.Entries) string {
	if len(entries) == 0 {
		return ""
	}
	lines := []string{headStyle.Render("diagnostics")}
	for _, entry := range entries {
		style := warnStyle
		if entry.Level == diag.LevelError {
			style = errorStyle
		}
		line := fmt.Sprintf("%-5s %s: %s", entry.Level, entry.Kind, entry.Message)
		if entry.Origin != "" {
			line += labelStyle.Render(" (" + string(entry.Origin) + ")")
		}
		lines = append(lines, style.Render(line))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func field(label, value string) string {
	return labelStyle.Render(label+": ") + bodyStyle.Render(value)
}

func renderEvent(event eventstream.Event) string {
	line := labelStyle.Render(event.Timestamp.Format("15:04:05.000")+" ") + bodyStyle.Render(event.Name)
	if len(event.Data) == 0 {
		return line
	}
	keys := make([]string, 0, len(event.Data))
	for key := range event.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", key, event.Data[key]))
	}
	return line + labelStyle.Render(" "+strings.Join(pairs, " "))
}
