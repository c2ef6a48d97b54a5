package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/storacha/linkdex/pkg/bus"
	"github.com/storacha/linkdex/pkg/bus/events"
	"github.com/storacha/linkdex/pkg/pipeline"
)

var indexEventPath string

var indexCmd = &cobra.Command{
	Use:   "index [key...]",
	Short: "Record the links of archives in the link table",
	Long: wordwrap.WrapString(
		"Read each archive and write one record per non-leaf block to the link "+
			"table, holding the block bytes and the CIDs it links to. Archives are "+
			"named by key in the configured bucket, or by an SNS wrapped S3 "+
			"notification read from the file given with --event.",
		80),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := printer(cmd)

		if indexEventPath == "" && len(args) == 0 {
			cmd.SilenceUsage = false
			return errors.New("at least one key or --event is required")
		}

		table, closeTable, err := openTable(ctx, cfg.Table)
		if err != nil {
			return fmt.Errorf("opening link table: %w", err)
		}
		defer closeTable()

		b := bus.New()
		p := newPipeline(cfg, table, pipeline.WithEventBus(b))

		buckets := map[string]struct{}{cfg.Store.Bucket: {}}
		var evt lambdaevents.SNSEvent
		if indexEventPath != "" {
			evt, err = readEvent(afero.NewOsFs(), indexEventPath)
			if err != nil {
				return err
			}
			for _, r := range pipeline.Created(pipeline.ExtractRecords(evt)) {
				buckets[r.S3.Bucket.Name] = struct{}{}
			}
		}
		for bucket := range buckets {
			unsubscribe, err := bus.On(b, events.TopicArchive(bucket), out.Archive)
			if err != nil {
				return err
			}
			defer unsubscribe()
		}

		var (
			results []pipeline.Result
			errs    []error
		)
		if indexEventPath != "" {
			res, err := p.Handle(ctx, evt)
			results = append(results, res...)
			errs = append(errs, err)
		}
		for _, key := range args {
			res, err := p.IndexArchive(ctx, cfg.Store.Bucket, key)
			results = append(results, res)
			errs = append(errs, err)
		}

		if jsonOutput {
			if err := out.JSON(results); err != nil {
				return err
			}
		} else {
			records := 0
			for _, r := range results {
				records += r.Records
			}
			out.Success("indexed %s archives, wrote %s records",
				humanize.Comma(int64(len(results))), humanize.Comma(int64(records)))
		}
		return errors.Join(errs...)
	},
}

// readEvent reads an SNS event holding S3 notifications from path.
func readEvent(fsys afero.Fs, path string) (lambdaevents.SNSEvent, error) {
	var evt lambdaevents.SNSEvent
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return evt, fmt.Errorf("reading event: %w", err)
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		return evt, fmt.Errorf("decoding event: %w", err)
	}
	return evt, nil
}

func init() {
	indexCmd.Flags().StringVar(&indexEventPath, "event", "", "Path to an SNS event carrying S3 notifications")

	indexCmd.Flags().Int("batch-size", 25, "Records written per batch (at most 25)")
	cobra.CheckErr(viper.BindPFlag("table.batch_size", indexCmd.Flags().Lookup("batch-size")))

	rootCmd.AddCommand(indexCmd)
}
