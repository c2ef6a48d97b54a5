package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/storacha/linkdex/internal/output"
	"github.com/storacha/linkdex/internal/telemetry"
	"github.com/storacha/linkdex/pkg/build"
	"github.com/storacha/linkdex/pkg/carstream"
	"github.com/storacha/linkdex/pkg/config"
	"github.com/storacha/linkdex/pkg/reporter"
)

var (
	log    = logging.Logger("cmd")
	tracer = otel.Tracer("cmd")
)

var (
	cfgFilePath string
	jsonOutput  bool

	// cfg is loaded once flags are parsed, before any command runs.
	cfg config.Config
	// teardown ends the command span and flushes telemetry.
	teardown = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "linkdex",
	Short: "Report whether DAGs are fully stored in CAR archives",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := readConfigFile(); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load[config.Config]()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := setLogLevel(cfg.LogLevel); err != nil {
			return err
		}

		shutdown, err := telemetry.Setup(cmd.Context(), telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     build.Version,
		})
		if err != nil {
			return fmt.Errorf("setting up telemetry: %w", err)
		}

		ctx, span := tracer.Start(cmd.Context(), "cli")
		setSpanAttributes(cmd, span)
		cmd.SetContext(ctx)
		teardown = func() {
			span.End()
			if err := shutdown(context.Background()); err != nil {
				log.Warnw("shutting down telemetry", "error", err)
			}
		}
		return nil
	},
	// We handle errors ourselves when they're returned from ExecuteContext.
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	cobra.EnableTraverseRunHooks = true
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)

	config.SetDefaults(viper.GetViper())
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFilePath, "config", "", "Path to the config file")
	flags.BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	flags.String("log-level", "info", "Logging level (debug, info, warn, error)")
	cobra.CheckErr(viper.BindPFlag("log_level", flags.Lookup("log-level")))

	flags.String("store-root", "./data", "Directory holding one directory per bucket")
	cobra.CheckErr(viper.BindPFlag("store.root", flags.Lookup("store-root")))

	flags.String("bucket", "carpark", "Bucket holding uploaded archives")
	cobra.CheckErr(viper.BindPFlag("store.bucket", flags.Lookup("bucket")))

	flags.String("table-driver", "sqlite", "Link table backend (sqlite, postgres, badger, datastore)")
	cobra.CheckErr(viper.BindPFlag("table.driver", flags.Lookup("table-driver")))

	flags.String("table-url", "./data/linkdex.db", "SQLite file, Postgres connection string or badger directory")
	cobra.CheckErr(viper.BindPFlag("table.url", flags.Lookup("table-url")))

	flags.Int("concurrency", reporter.DefaultConcurrency, "Archives read at once within an ownership group")
	cobra.CheckErr(viper.BindPFlag("reporter.concurrency", flags.Lookup("concurrency")))

	flags.Int("max-groups", reporter.DefaultMaxGroups, "Ownership groups evaluated per root (0 for no limit)")
	cobra.CheckErr(viper.BindPFlag("reporter.max_groups", flags.Lookup("max-groups")))

	flags.String("order", "count", "Ownership group order (count, size)")
	cobra.CheckErr(viper.BindPFlag("reporter.order", flags.Lookup("order")))

	flags.Uint("max-tries", carstream.DefaultMaxTries, "Attempts made to read an archive or write a batch")
	cobra.CheckErr(viper.BindPFlag("retry.max_tries", flags.Lookup("max-tries")))

	flags.Duration("retry-interval", carstream.DefaultInitialInterval, "Initial backoff between attempts")
	cobra.CheckErr(viper.BindPFlag("retry.initial_interval", flags.Lookup("retry-interval")))
}

func initConfig() {
	// keys such as 'table.url' are read from env vars such as LINKDEX_TABLE_URL
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("LINKDEX")

	viper.SetConfigName("linkdex-config")
	viper.SetConfigType("yaml")

	// without --config, look in the current directory then $XDG_CONFIG_HOME/linkdex/
	if cfgFilePath == "" {
		viper.AddConfigPath(".")
		if configDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(configDir, "linkdex"))
		}
	} else {
		viper.SetConfigFile(cfgFilePath)
	}
}

// readConfigFile merges the config file into viper. A missing file is only an
// error when it was named explicitly.
func readConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.Debugw("read config file", "path", viper.ConfigFileUsed())
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) && cfgFilePath == "" {
		return nil
	}
	return fmt.Errorf("reading config file: %w", err)
}

func setLogLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	logging.SetAllLoggers(lvl)
	return nil
}

func printer(cmd *cobra.Command) *output.Printer {
	return output.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), jsonOutput)
}

// ExecuteContext adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func ExecuteContext(ctx context.Context) error {
	defer func() { teardown() }()
	return rootCmd.ExecuteContext(ctx)
}
