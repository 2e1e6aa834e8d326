package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build time",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (built %s, %s/%s)\n",
				constants.AppName, version.Version, version.BuildTime, runtime.GOOS, runtime.GOARCH)
		},
	}
}
