package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gloss/cli/render"
	"github.com/pithecene-io/gloss/cli/tui"
	"github.com/pithecene-io/gloss/iox"
	"github.com/pithecene-io/gloss/lode"
)

// HistoryCommand returns the history command, which reads run summaries
// back from the journal.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List journaled annotate and sync runs",
		Flags: withFlags(
			&cli.StringFlag{
				Name:  "command",
				Usage: "Only runs of this command (annotate or sync)",
			},
			&cli.StringFlag{
				Name:  "day",
				Usage: "Only runs started on this UTC day (YYYY-MM-DD)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Max runs listed (0 for all)",
				Value: 20,
			},
			&cli.StringFlag{
				Name:  "run",
				Usage: "Show one run and its sync changes",
			},
		),
		Action: historyAction,
	}
}

// HistoryRow is one run in history output.
type HistoryRow struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	Command   string    `json:"command" yaml:"command"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	Duration  string    `json:"duration" yaml:"duration"`
	ExitCode  int       `json:"exit_code" yaml:"exit_code"`
	Apply     bool      `json:"apply" yaml:"apply"`
	Failures  int       `json:"failures" yaml:"failures"`
}

// RunDetail is a single run with its sync changes.
type RunDetail struct {
	Run     lode.RunRecord      `json:"run" yaml:"run"`
	Changes []lode.ChangeRecord `json:"changes" yaml:"changes"`
}

func historyRows(runs []lode.RunRecord) []HistoryRow {
	rows := make([]HistoryRow, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, HistoryRow{
			RunID:     run.RunID,
			Command:   run.Command,
			StartedAt: run.StartedAt,
			Duration:  run.Duration().Round(time.Millisecond).String(),
			ExitCode:  run.ExitCode,
			Apply:     run.Apply,
			Failures:  len(run.Failures),
		})
	}
	return rows
}

func historyAction(c *cli.Context) error {
	switch c.String("command") {
	case "", lode.CommandAnnotate, lode.CommandSync:
	default:
		return usageError(fmt.Errorf("--command must be annotate or sync, got %q", c.String("command")))
	}
	if day := c.String("day"); day != "" {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return usageError(fmt.Errorf("--day must be YYYY-MM-DD, got %q", day))
		}
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError(err)
	}

	journal, err := openJournal(c.Context, cfg, nil)
	if err != nil {
		return cli.Exit(fmt.Sprintf("history: %v", err), exitFindings)
	}
	if journal == nil {
		return usageError(errors.New("no journal configured (journal.backend)"))
	}
	defer iox.DiscardClose(journal)

	if runID := c.String("run"); runID != "" {
		if c.Bool("tui") {
			return usageError(errors.New("--tui is not supported with --run"))
		}
		return renderRunDetail(c, r, journal, runID)
	}

	runs, err := journal.Runs(c.Context, lode.Filter{
		Command: c.String("command"),
		Day:     c.String("day"),
		Limit:   c.Int("limit"),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("history: %v", err), exitFindings)
	}
	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewHistory, runs)
	}
	return r.Render(historyRows(runs))
}

func renderRunDetail(c *cli.Context, r *render.Renderer, journal *lode.Journal, runID string) error {
	run, err := lode.QueryRun(c.Context, journal.Dataset(), runID)
	if err != nil {
		if errors.Is(err, lode.ErrRunNotFound) {
			return cli.Exit(err.Error(), exitFindings)
		}
		return cli.Exit(fmt.Sprintf("history: %v", err), exitFindings)
	}
	changes, err := journal.Changes(c.Context, runID)
	if err != nil {
		return cli.Exit(fmt.Sprintf("history: %v", err), exitFindings)
	}
	if changes == nil {
		changes = []lode.ChangeRecord{}
	}

	detail := RunDetail{Run: run, Changes: changes}
	if r.Format() != render.FormatTable {
		return r.Render(detail)
	}
	if err := r.Render(historyRows([]lode.RunRecord{run})); err != nil {
		return err
	}
	if len(run.Counters) > 0 {
		r.Section("Counters")
		if err := r.Render(run.Counters); err != nil {
			return err
		}
	}
	if len(run.Failures) > 0 {
		r.Section("Failures")
		if err := r.Render(run.Failures); err != nil {
			return err
		}
	}
	if len(changes) > 0 {
		r.Section("Changes")
		return r.Render(changes)
	}
	return nil
}
