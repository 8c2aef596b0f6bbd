// Package version prints build information.
package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aves-app/aves/internal/buildinfo"
)

// Command creates the version command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := buildinfo.Current()
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
			fmt.Fprintf(cmd.OutOrStdout(), "go: %s\n", buildinfo.GoVersion())
		},
	}
}
