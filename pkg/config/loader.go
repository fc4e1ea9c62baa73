package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".bgp-leakscan"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix.
const envPrefix = "BGP_LEAKSCAN"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// thresholdKeys have no default so that an unset threshold can be told apart.
var thresholdKeys = []string{
	"detection.pfx_peak_min_value",
	"detection.cfl_peak_min_value",
	"detection.max_nb_peaks",
	"detection.percent_similarity",
	"detection.percent_std",
}

// LoadConfig loads configuration from file, env vars, and defaults, then
// applies overrides (typically command-line flags the user set) on top.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string, overrides map[string]interface{}) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()
	for _, key := range thresholdKeys {
		if err := viperCfg.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	for key, value := range overrides {
		viperCfg.Set(key, value)
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("detection.fit_params", false)
	viperCfg.SetDefault("detection.strategy", DefaultStrategy)
	viperCfg.SetDefault("detection.min_days", DefaultMinDays)
	viperCfg.SetDefault("detection.day_tolerance", DefaultDayTolerance)
	viperCfg.SetDefault("detection.workers", DefaultWorkers)

	viperCfg.SetDefault("fit.max_leak_fraction", DefaultMaxLeakFraction)
	viperCfg.SetDefault("fit.min_ceiling", DefaultMinCeiling)
	viperCfg.SetDefault("fit.params_file", "")
	viperCfg.SetDefault("fit.cache_ttl", DefaultCacheTTL)

	viperCfg.SetDefault("redis.url", "")

	viperCfg.SetDefault("database.url", "")
	viperCfg.SetDefault("database.table", DefaultDatabaseTable)
	viperCfg.SetDefault("database.country_table", DefaultCountryTable)

	viperCfg.SetDefault("kafka.brokers", []string{})
	viperCfg.SetDefault("kafka.topic", DefaultKafkaTopic)

	viperCfg.SetDefault("asn_data", "")
	viperCfg.SetDefault("metrics.textfile", "")

	viperCfg.SetDefault("log.level", DefaultLogLevel)
	viperCfg.SetDefault("log.format", DefaultLogFormat)
}
