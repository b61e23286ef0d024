package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gloss/cli/config"
	"github.com/pithecene-io/gloss/cli/reader"
	"github.com/pithecene-io/gloss/cli/render"
	"github.com/pithecene-io/gloss/cli/tui"
)

// StatsCommand returns the stats command.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Summarize requested and annotated tasks across the dataset",
		Flags:  TreeFlags(),
		Action: statsAction,
	}
}

// CheckCommand returns the check command.
func CheckCommand() *cli.Command {
	return &cli.Command{
		Name:   "check",
		Usage:  "Check tracking file references in the output tree",
		Flags:  TreeFlags(),
		Action: checkAction,
	}
}

func roots(cfg *config.Config) reader.Roots {
	return reader.Roots{Dataset: cfg.DatasetRoot, Output: cfg.OutputRoot, Artifact: cfg.ArtifactRoot}
}

func statsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := requireRoots(cfg, true, false); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError(err)
	}

	stats, err := reader.Stats(roots(cfg))
	if err != nil {
		return usageError(err)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStats, stats)
	}
	if err := r.Render(stats); err != nil {
		return err
	}
	if r.Format() != render.FormatTable {
		return nil
	}
	r.Section("Tasks")
	if err := r.Render(stats.Tasks); err != nil {
		return err
	}
	if len(stats.UnknownRequested) > 0 {
		r.Section("Unknown tasks requested")
		if err := r.Render(stats.UnknownRequested); err != nil {
			return err
		}
	}
	if len(stats.UnknownAnnotated) > 0 {
		r.Section("Unknown tasks annotated")
		return r.Render(stats.UnknownAnnotated)
	}
	return nil
}

func checkAction(c *cli.Context) error {
	if err := rejectTUI(c); err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := requireRoots(cfg, false, true); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError(err)
	}

	report, err := reader.Check(roots(cfg))
	if err != nil {
		return usageError(err)
	}

	if err := r.Render(report); err != nil {
		return err
	}
	if r.Format() == render.FormatTable {
		sections := []struct {
			title string
			rows  any
			n     int
		}{
			{"Multiple tracking tasks", report.MultiTrack, len(report.MultiTrack)},
			{"Refs missing task suffix", report.MissingSuffix, len(report.MissingSuffix)},
			{"Missing tracking files", report.MissingFiles, len(report.MissingFiles)},
			{"Unreadable outputs", report.LoadErrors, len(report.LoadErrors)},
		}
		for _, s := range sections {
			if s.n == 0 {
				continue
			}
			r.Section(s.title)
			if err := r.Render(s.rows); err != nil {
				return err
			}
		}
	}
	if !report.Clean() {
		return cli.Exit("", exitFindings)
	}
	return nil
}
