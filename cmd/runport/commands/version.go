package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/runport/internal/normalizer"
	"github.com/yairfalse/runport/pkg/types"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	BuiltBy   = "unknown"
)

// SetVersionInfo updates the version variables with build-time information
func SetVersionInfo(version, commit, buildTime, builtBy string) {
	if version != "" {
		Version = version
	}
	if commit != "" {
		Commit = commit
	}
	if buildTime != "" {
		BuildTime = buildTime
	}
	if builtBy != "" {
		BuiltBy = builtBy
	}
}

func newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show runport version",
		Long:  `Display version information for runport, including the manifest and normalizer versions it writes.`,
		Run:   runVersion,
	}

	cmd.Flags().Bool("short", false, "show only version number")

	return cmd
}

func runVersion(cmd *cobra.Command, args []string) {
	short, _ := cmd.Flags().GetBool("short")
	out := cmd.OutOrStdout()

	if short {
		fmt.Fprintln(out, Version)
		return
	}

	fmt.Fprintf(out, "runport version %s\n", Version)
	fmt.Fprintf(out, "  commit:     %s\n", Commit)
	fmt.Fprintf(out, "  built:      %s\n", BuildTime)
	fmt.Fprintf(out, "  built by:   %s\n", BuiltBy)
	fmt.Fprintf(out, "  manifest:   v%d\n", types.ManifestVersion)
	fmt.Fprintf(out, "  normalizer: v%d\n", normalizer.TableVersion)
}
