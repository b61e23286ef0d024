package cmd

import (
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gloss/cli/render"
	"github.com/pithecene-io/gloss/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	JournalSchema string `json:"journal_schema"`
	GoVersion     string `json:"go_version"`
}

// VersionCommand returns the version command.
// All components share a single version (lockstep versioning).
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		if err := rejectTUI(c); err != nil {
			return err
		}
		r, err := render.NewRenderer(c)
		if err != nil {
			return usageError(err)
		}

		return r.Render(VersionResponse{
			Version:       types.Version,
			Commit:        commit,
			JournalSchema: types.JournalSchemaVersion,
			GoVersion:     runtime.Version(),
		})
	}
}
