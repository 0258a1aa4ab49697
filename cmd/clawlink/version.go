package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"clawlink/internal/version"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.GetBuildInfo()
		out := cmd.OutOrStdout()
		if versionJSON {
			return writeJSON(out, info)
		}
		fmt.Fprintf(out, "clawlink %s\n", version.Full())
		fmt.Fprintf(out, "  Commit:     %s\n", info.GitCommit)
		fmt.Fprintf(out, "  Built:      %s\n", info.BuildDate)
		fmt.Fprintf(out, "  Go version: %s\n", info.GoVersion)
		fmt.Fprintf(out, "  Platform:   %s\n", info.Platform)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(versionCmd)
}
