package cmd

import (
	"github.com/spf13/cobra"

	"github.com/storacha/linkdex/pkg/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of linkdex",
	Long:  `Print the version of linkdex including the git revision.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := map[string]string{
			"version": build.Version,
			"commit":  build.Commit,
			"date":    build.Date,
			"builtBy": build.BuiltBy,
		}
		out := printer(cmd)
		if jsonOutput {
			return out.JSON(info)
		}
		out.Table([][]string{
			{"version:", build.Version},
			{"commit:", build.Commit},
			{"built at:", build.Date},
			{"built by:", build.BuiltBy},
		})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
