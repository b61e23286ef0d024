package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gloss/adapter"
	"github.com/pithecene-io/gloss/cli/render"
	"github.com/pithecene-io/gloss/cli/tui"
	"github.com/pithecene-io/gloss/lode"
	"github.com/pithecene-io/gloss/metrics"
	"github.com/pithecene-io/gloss/prune"
)

// JSON-lines stream selections.
const (
	jsonlChanges = "changes"
	jsonlIssues  = "issues"
	jsonlAll     = "all"
)

// SyncCommand returns the sync command. Without --apply it is a dry run.
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Prune annotations and tracking files no longer requested by the descriptors",
		Flags: withFlags(
			&cli.BoolFlag{
				Name:  "apply",
				Usage: "Write changes (default: dry run)",
			},
			&cli.BoolFlag{
				Name:  "prune-orphans",
				Usage: "Also delete outputs whose descriptor no longer exists",
			},
			&cli.BoolFlag{
				Name:  "delete-empty-outputs",
				Usage: "Delete outputs left with no annotations",
			},
			&cli.StringFlag{
				Name:  "jsonl",
				Usage: "Stream JSON lines instead of a summary: changes, issues or all",
			},
			&cli.BoolFlag{
				Name:  "list-changes",
				Usage: "Include every changed output in the summary",
			},
			&cli.BoolFlag{
				Name:  "list-issues",
				Usage: "Include issue paths, grouped by reason, in the summary",
			},
			&cli.IntFlag{
				Name:  "max-list",
				Usage: "Max paths listed per issue reason",
				Value: 50,
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run ID (default: random UUID)",
			},
		),
		Action: syncAction,
	}
}

// IssueGroup lists the paths of one issue reason.
type IssueGroup struct {
	Reason string   `json:"reason" yaml:"reason"`
	Count  int      `json:"count" yaml:"count"`
	Paths  []string `json:"paths" yaml:"paths"`
	// More counts paths omitted by --max-list.
	More int `json:"more,omitempty" yaml:"more,omitempty"`
}

// SyncSummary is the rendered result of a sync pass.
type SyncSummary struct {
	RunID        string         `json:"run_id" yaml:"run_id"`
	DatasetRoot  string         `json:"dataset_root" yaml:"dataset_root"`
	OutputRoot   string         `json:"output_root" yaml:"output_root"`
	ArtifactRoot string         `json:"artifact_root" yaml:"artifact_root"`
	Apply        bool           `json:"apply" yaml:"apply"`
	PruneOrphans bool           `json:"prune_orphans" yaml:"prune_orphans"`
	DeleteEmpty  bool           `json:"delete_empty_outputs" yaml:"delete_empty_outputs"`
	ChangedFiles int            `json:"changed_files" yaml:"changed_files"`
	IssueCount   int            `json:"issue_count" yaml:"issue_count"`
	Counters     prune.Counters `json:"counters" yaml:"counters"`
	Changes      []prune.Change `json:"changes,omitempty" yaml:"changes,omitempty"`
	Issues       []IssueGroup   `json:"issues,omitempty" yaml:"issues,omitempty"`
}

// summarize builds the summary of rep. Change and issue listings are
// included only when requested.
func summarize(runID string, rep *prune.Report, listChanges, listIssues bool, maxList int) SyncSummary {
	s := SyncSummary{
		RunID:        runID,
		DatasetRoot:  rep.DatasetRoot,
		OutputRoot:   rep.OutputRoot,
		ArtifactRoot: rep.ArtifactRoot,
		Apply:        rep.Apply,
		PruneOrphans: rep.PruneOrphans,
		DeleteEmpty:  rep.DeleteEmpty,
		ChangedFiles: len(rep.Changes),
		IssueCount:   len(rep.Issues),
		Counters:     rep.Counters,
	}
	if listChanges {
		s.Changes = rep.Changes
	}
	if listIssues {
		byReason := rep.IssuesByReason()
		for _, reason := range sortedReasons(byReason) {
			paths := byReason[reason]
			g := IssueGroup{Reason: reason, Count: len(paths), Paths: paths}
			if len(paths) > maxList {
				g.Paths = paths[:maxList]
				g.More = len(paths) - maxList
			}
			s.Issues = append(s.Issues, g)
		}
	}
	return s
}

func sortedReasons(m map[string][]string) []string {
	reasons := make([]string, 0, len(m))
	for r := range m {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	return reasons
}

// jsonlEntry tags a change or issue in the combined stream.
type jsonlEntry struct {
	Type string `json:"type"`
	*prune.Change
	*prune.Issue
}

func writeJSONL(w io.Writer, mode string, rep *prune.Report) error {
	switch mode {
	case jsonlChanges:
		return render.JSONLines(w, rep.Changes)
	case jsonlIssues:
		return render.JSONLines(w, rep.Issues)
	default:
		entries := make([]jsonlEntry, 0, len(rep.Changes)+len(rep.Issues))
		for i := range rep.Changes {
			entries = append(entries, jsonlEntry{Type: "change", Change: &rep.Changes[i]})
		}
		for i := range rep.Issues {
			entries = append(entries, jsonlEntry{Type: "issue", Issue: &rep.Issues[i]})
		}
		return render.JSONLines(w, entries)
	}
}

func syncAction(c *cli.Context) error {
	mode := c.String("jsonl")
	switch mode {
	case "", jsonlChanges, jsonlIssues, jsonlAll:
	default:
		return usageError(fmt.Errorf("--jsonl must be changes, issues or all, got %q", mode))
	}
	if c.Int("max-list") < 0 {
		return usageError(errors.New("--max-list must be >= 0"))
	}
	if mode != "" && c.Bool("tui") {
		return usageError(errors.New("--jsonl and --tui are mutually exclusive"))
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := requireRoots(cfg, true, true); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError(err)
	}

	runID := c.String("run-id")
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := newLogger(cfg, lode.CommandSync, runID)
	defer logger.Sync()
	collector := metrics.NewCollector("", "", storageBackend(cfg), runID)

	started := time.Now().UTC()
	rep, err := prune.Sync(c.Context, prune.Options{
		DatasetRoot:  cfg.DatasetRoot,
		OutputRoot:   cfg.OutputRoot,
		ArtifactRoot: cfg.Artifacts(),
		Apply:        c.Bool("apply"),
		PruneOrphans: cfg.Sync.PruneOrphans,
		DeleteEmpty:  cfg.Sync.DeleteEmptyOutputs,
	})
	if err != nil {
		if errors.Is(err, prune.ErrDatasetRoot) {
			return usageError(err)
		}
		return cli.Exit(fmt.Sprintf("sync: %v", err), exitFindings)
	}

	exit := exitOK
	outcome := adapter.OutcomeSuccess
	switch {
	case len(rep.Issues) > 0:
		exit, outcome = exitFindings, adapter.OutcomeIssues
	case len(rep.Changes) > 0:
		exit, outcome = exitFindings, adapter.OutcomeChanges
	}
	logger.Info("sync finished", map[string]any{
		"apply":   rep.Apply,
		"changes": len(rep.Changes),
		"issues":  len(rep.Issues),
	})

	// Dry runs are journaled too so history shows what a later --apply would do.
	finishRun(c.Context, cfg, logger, collector, completion{
		run: lode.RunRecord{
			Command:     lode.CommandSync,
			RunID:       runID,
			StartedAt:   started,
			CompletedAt: time.Now().UTC(),
			ExitCode:    exit,
			Apply:       rep.Apply,
			Counters:    countersMap(rep.Counters),
		},
		outcome: outcome,
		changes: rep.Changes,
	})

	if err := renderSync(c, r, mode, runID, rep); err != nil {
		return err
	}
	if exit != exitOK {
		return cli.Exit("", exit)
	}
	return nil
}

func renderSync(c *cli.Context, r *render.Renderer, mode, runID string, rep *prune.Report) error {
	if mode != "" {
		return writeJSONL(r.Writer(), mode, rep)
	}
	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewSync, rep)
	}

	s := summarize(runID, rep, c.Bool("list-changes"), c.Bool("list-issues"), c.Int("max-list"))
	if r.Format() != render.FormatTable {
		return r.Render(s)
	}

	if err := r.Render(s); err != nil {
		return err
	}
	r.Section("Counters")
	if err := r.Render(s.Counters); err != nil {
		return err
	}
	if len(s.Changes) > 0 {
		r.Section("Changes")
		if err := r.Render(s.Changes); err != nil {
			return err
		}
	}
	for _, g := range s.Issues {
		r.Section(fmt.Sprintf("Issues: %s (%d)", g.Reason, g.Count))
		for _, p := range g.Paths {
			fmt.Fprintln(r.Writer(), p)
		}
		if g.More > 0 {
			fmt.Fprintf(r.Writer(), "... (%d more)\n", g.More)
		}
	}
	if !rep.Apply && !rep.Clean() {
		fmt.Fprintln(r.Writer(), "\nRun with --apply to write changes.")
	}
	return nil
}

// countersMap flattens a counters struct into its JSON field names.
func countersMap(v any) map[string]int64 {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]int64
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
