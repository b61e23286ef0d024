// Package cmd provides CLI commands for the gloss binary.
package cmd

import "github.com/urfave/cli/v2"

// Exit codes.
const (
	exitOK = 0
	// exitFindings means annotate had failures or sync found changes or issues.
	exitFindings = 1
	// exitUsage means a usage or configuration error.
	exitUsage = 2
)

// Shared flags.
var (
	// ConfigFlag points at a gloss.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to gloss.yaml (default: ./gloss.yaml if present)",
		EnvVars: []string{"GLOSS_CONFIG"},
	}

	// DatasetRootFlag overrides dataset_root.
	DatasetRootFlag = &cli.StringFlag{
		Name:  "dataset-root",
		Usage: "Root of the descriptor tree",
	}

	// OutputRootFlag overrides output_root.
	OutputRootFlag = &cli.StringFlag{
		Name:  "output-root",
		Usage: "Root of the annotation output tree",
	}

	// ArtifactRootFlag overrides artifact_root.
	ArtifactRootFlag = &cli.StringFlag{
		Name:  "artifact-root",
		Usage: "Root that tracking file refs resolve against (default: output root)",
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (stats, sync, history only)",
	}
)

// ReadOnlyFlags returns the output flags shared by every command.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// TreeFlags returns the config and root flags plus ReadOnlyFlags.
func TreeFlags() []cli.Flag {
	return append([]cli.Flag{
		ConfigFlag,
		DatasetRootFlag,
		OutputRootFlag,
		ArtifactRootFlag,
	}, ReadOnlyFlags()...)
}

// withFlags appends extra command flags to TreeFlags.
func withFlags(extra ...cli.Flag) []cli.Flag {
	return append(TreeFlags(), extra...)
}
