package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gloss/types"
)

// Commands returns every gloss command.
func Commands(commit string) []*cli.Command {
	cmds := []*cli.Command{
		AnnotateCommand(),
		PlanCommand(),
		SyncCommand(),
		StatsCommand(),
		CheckCommand(),
		HistoryCommand(),
		VersionCommand(commit),
	}
	for _, cmd := range cmds {
		cmd.OnUsageError = onUsageError
	}
	return cmds
}

func onUsageError(_ *cli.Context, err error, _ bool) error {
	return usageError(err)
}

// NewApp builds the gloss application. Flag parse errors exit with the
// usage code.
func NewApp(commit string) *cli.App {
	return &cli.App{
		Name:     "gloss",
		Usage:    "Resumable AI annotation of sports video segments",
		Version:  fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Commands: Commands(commit),
		OnUsageError: onUsageError,
	}
}
