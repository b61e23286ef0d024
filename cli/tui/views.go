package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/gloss/cli/reader"
	"github.com/pithecene-io/gloss/lode"
	"github.com/pithecene-io/gloss/prune"
)

func row(label string, value any) string {
	return LabelStyle.Render(label) + ValueStyle.Render(fmt.Sprint(value))
}

func renderStats(data any) (string, error) {
	s, ok := data.(*reader.DatasetStats)
	if !ok {
		return "", fmt.Errorf("invalid data type for stats view: %T", data)
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Dataset Stats"))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Clips", s.Clips, primaryColor),
		statBox("Frames", s.Frames, highlightColor),
		statBox("Annotated", s.AnnotatedClips+s.AnnotatedFrames, successColor),
		statBox("Pending", s.Pending(), warningColor),
	))
	b.WriteString("\n\n")

	b.WriteString(SectionStyle.Render("Outputs"))
	b.WriteString("\n")
	b.WriteString(row("Clip outputs", s.OutputClips) + "\n")
	b.WriteString(row("Frame outputs", s.OutputFrames) + "\n")
	b.WriteString(row("Descriptor errors", s.MetadataErrors) + "\n")
	b.WriteString(row("Output errors", s.OutputErrors) + "\n\n")

	b.WriteString(SectionStyle.Render("Tasks"))
	b.WriteString("\n")
	b.WriteString(LabelStyle.Render("Task") + fmt.Sprintf("%10s %10s", "requested", "annotated") + "\n")
	for _, t := range s.Tasks {
		style := SuccessStyle
		if t.Annotated < t.Requested {
			style = WarningStyle
		}
		b.WriteString(LabelStyle.Render(t.Task) + style.Render(fmt.Sprintf("%10d %10d", t.Requested, t.Annotated)) + "\n")
	}

	if len(s.UnknownRequested)+len(s.UnknownAnnotated) > 0 {
		b.WriteString("\n" + SectionStyle.Render("Unknown tasks") + "\n")
		for _, name := range sortedKeys(s.UnknownRequested) {
			b.WriteString(row(name+" (requested)", s.UnknownRequested[name]) + "\n")
		}
		for _, name := range sortedKeys(s.UnknownAnnotated) {
			b.WriteString(row(name+" (annotated)", s.UnknownAnnotated[name]) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func renderSync(data any) (string, error) {
	r, ok := data.(*prune.Report)
	if !ok {
		return "", fmt.Errorf("invalid data type for sync view: %T", data)
	}

	mode := "dry run"
	if r.Apply {
		mode = "apply"
	}
	c := r.Counters

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Sync (" + mode + ")"))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Descriptors", c.MetadataFiles, primaryColor),
		statBox("Changes", len(r.Changes), warningColor),
		statBox("Issues", len(r.Issues), errorColor),
		statBox("MOT files", c.MOTDeleted+c.MOTWouldDelete, highlightColor),
	))
	b.WriteString("\n\n")

	b.WriteString(SectionStyle.Render("Roots") + "\n")
	b.WriteString(row("Dataset", r.DatasetRoot) + "\n")
	b.WriteString(row("Output", r.OutputRoot) + "\n")
	b.WriteString(row("Artifact", r.ArtifactRoot) + "\n\n")

	if len(r.Changes) > 0 {
		b.WriteString(SectionStyle.Render("Changes") + "\n")
		for _, ch := range r.Changes {
			line := fmt.Sprintf("%-13s %s", ch.Kind, ch.OutputPath)
			if len(ch.RemovedTasks) > 0 {
				line += "  -" + strings.Join(ch.RemovedTasks, ",")
			}
			b.WriteString(WarningStyle.Render(line) + "\n")
		}
		b.WriteString("\n")
	}

	if len(r.Issues) > 0 {
		b.WriteString(SectionStyle.Render("Issues") + "\n")
		byReason := r.IssuesByReason()
		for _, reason := range sortedKeys(byReason) {
			b.WriteString(ErrorStyle.Render(fmt.Sprintf("%s (%d)", reason, len(byReason[reason]))) + "\n")
			for _, p := range byReason[reason] {
				b.WriteString("  " + p + "\n")
			}
		}
	}

	if r.Clean() {
		b.WriteString(SuccessStyle.Render("Outputs match descriptors."))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func renderHistory(data any) (string, error) {
	runs, ok := data.([]lode.RunRecord)
	if !ok {
		return "", fmt.Errorf("invalid data type for history view: %T", data)
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run History"))
	b.WriteString("\n")
	if len(runs) == 0 {
		b.WriteString(HelpStyle.Render("No runs recorded."))
		return b.String(), nil
	}
	for _, r := range runs {
		outcome := "success"
		if r.ExitCode != 0 {
			outcome = "failures"
			if r.Command == lode.CommandSync {
				outcome = "changes"
			}
		}
		b.WriteString(fmt.Sprintf("%-20s %-9s %-38s %8s ",
			r.CompletedAt.Format("2006-01-02 15:04:05"), r.Command, r.RunID, r.Duration().Round(1e6)))
		b.WriteString(OutcomeStyle(outcome).Render(outcome))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
