package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/storacha/linkdex/cmd/banner"
	"github.com/storacha/linkdex/pkg/api"
	"github.com/storacha/linkdex/pkg/bus"
	"github.com/storacha/linkdex/pkg/bus/events"
	"github.com/storacha/linkdex/pkg/build"
	"github.com/storacha/linkdex/pkg/pipeline"
	"github.com/storacha/linkdex/pkg/reporter"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve completeness reports over HTTP",
	Long: wordwrap.WrapString(
		"Start an HTTP server that reports whether the DAG under a root CID can be "+
			"rebuilt from the archives in the configured bucket. The server also "+
			"accepts archive created notifications on /events and records the "+
			"links of each new archive in the link table.",
		80),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		in, err := openIngestor(cfg)
		if err != nil {
			return err
		}
		reporters, err := newReporters(cfg, in)
		if err != nil {
			return err
		}
		table, closeTable, err := openTable(ctx, cfg.Table)
		if err != nil {
			return fmt.Errorf("opening link table: %w", err)
		}
		defer closeTable()

		b := bus.New()
		unsubscribe, err := bus.On(b, events.TopicArchive(cfg.Store.Bucket), func(v events.ArchiveView) {
			if v.State == events.Failed {
				log.Warnw("archive failed", "key", v.Key, "error", v.Err)
			}
		})
		if err != nil {
			return err
		}
		defer unsubscribe()

		srv, err := api.New(
			api.WithReporters(reporters...),
			api.WithSiblings(reporter.NewSiblings(in, cfg.Reporter.Concurrency)),
			api.WithPipeline(newPipeline(cfg, table, pipeline.WithEventBus(b))),
			api.WithRequestTimeout(cfg.API.RequestTimeout),
			api.WithCacheSize(cfg.API.CacheSize),
		)
		if err != nil {
			return fmt.Errorf("creating server: %w", err)
		}

		// print banner after short delay to ensure it only appears if no errors
		// occurred during startup
		timer := time.NewTimer(time.Second)
		defer timer.Stop()
		go func() {
			<-timer.C
			cmd.Println(banner.Banner(banner.Info{
				Version: build.Version,
				Port:    cfg.API.Port,
				Bucket:  cfg.Store.Bucket,
				Store:   cfg.Store.Root,
				Table:   cfg.Table.Driver,
				Routes:  []string{"GET /cid/:cid", "GET /?key=", "POST /events"},
			}))
		}()

		// shut down the server gracefully on context cancellation
		go func() {
			<-ctx.Done()
			cmd.Println("\nShutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				cmd.PrintErrf("shutting down server: %s", err.Error())
			}
		}()

		if err := srv.Start(fmt.Sprintf(":%d", cfg.API.Port)); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 3000, "Port to run the HTTP server on")
	cobra.CheckErr(viper.BindPFlag("api.port", serveCmd.Flags().Lookup("port")))

	serveCmd.Flags().Duration("request-timeout", 30*time.Second, "Deadline for each request")
	cobra.CheckErr(viper.BindPFlag("api.request_timeout", serveCmd.Flags().Lookup("request-timeout")))

	serveCmd.Flags().Int("cache-size", 1024, "Number of Complete reports to cache (0 disables)")
	cobra.CheckErr(viper.BindPFlag("api.cache_size", serveCmd.Flags().Lookup("cache-size")))

	rootCmd.AddCommand(serveCmd)
}
