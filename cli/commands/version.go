package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version 构建时通过 -ldflags "-X" 注入
var Version = "dev"

// VersionCommand returns the version command
func VersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "napcatbridge %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
