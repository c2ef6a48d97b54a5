package cmd

import (
	"errors"

	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/cobra"

	"github.com/storacha/linkdex/pkg/reporter"
)

var reportKey string

var reportCmd = &cobra.Command{
	Use:   "report [root-cid]",
	Short: "Report whether the DAG under a root CID is fully stored",
	Long: wordwrap.WrapString(
		"Read the archives stored for a root CID and report whether every block "+
			"of its DAG is present (Complete), some are known to be missing "+
			"(Partial), or nothing conclusive was found (Unknown). With --key, "+
			"report on the archive at that key together with the other archives "+
			"uploaded alongside it.",
		80),
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := printer(cmd)

		in, err := openIngestor(cfg)
		if err != nil {
			return err
		}

		var report reporter.Report
		if reportKey != "" {
			if len(args) > 0 {
				cmd.SilenceUsage = false
				return errors.New("a root CID and --key cannot be used together")
			}
			report, err = reporter.NewSiblings(in, cfg.Reporter.Concurrency).ReportForKey(ctx, reportKey)
			if err != nil {
				return err
			}
			return out.Report(report)
		}

		if len(args) == 0 {
			cmd.SilenceUsage = false
			return errors.New("a root CID or --key is required")
		}
		root, err := reporter.ParseRoot(args[0])
		if err != nil {
			cmd.SilenceUsage = false
			return err
		}
		reporters, err := newReporters(cfg, in)
		if err != nil {
			return err
		}
		report, err = reporter.ReportForCID(ctx, root, reporters...)
		if err != nil {
			return err
		}
		return out.Report(report)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportKey, "key", "", "Archive key of the form raw/<root>/<uploader>/<file>.car")
	rootCmd.AddCommand(reportCmd)
}
