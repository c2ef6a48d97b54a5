package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/storacha/linkdex/pkg/carstream"
	"github.com/storacha/linkdex/pkg/linktable"
	"github.com/storacha/linkdex/pkg/reporter"
)

// SetDefaults registers the default value of every key with v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.bucket", "carpark")
	v.SetDefault("store.root", "./data")
	v.SetDefault("table.driver", "sqlite")
	v.SetDefault("table.url", "./data/linkdex.db")
	v.SetDefault("table.batch_size", linktable.DefaultBatchSize)
	v.SetDefault("retry.max_tries", carstream.DefaultMaxTries)
	v.SetDefault("retry.initial_interval", carstream.DefaultInitialInterval)
	v.SetDefault("reporter.concurrency", reporter.DefaultConcurrency)
	v.SetDefault("reporter.max_groups", reporter.DefaultMaxGroups)
	v.SetDefault("reporter.order", "count")
	v.SetDefault("api.port", 3000)
	v.SetDefault("api.request_timeout", 30*time.Second)
	v.SetDefault("api.cache_size", 1024)
	v.SetDefault("telemetry.service_name", "linkdex")
	v.SetDefault("log_level", "info")
}
