package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nightjarhq/nightjar/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints Nightjar version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("%s (build %s)\n", version.NightjarVersion(), version.BuildNumber())
	},
}
