// Package config loads bgp-leakscan settings from a YAML file, environment
// variables and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/fitter"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	log "github.com/sirupsen/logrus"
)

// Defaults
const (
	DefaultStrategy        = fitter.StrategyGrid
	DefaultMinDays         = 31
	DefaultDayTolerance    = 0
	DefaultWorkers         = 0 // one per CPU
	DefaultMaxLeakFraction = 0.1
	DefaultMinCeiling      = 1
	DefaultCacheTTL        = fitter.DefaultCacheTTL
	DefaultDatabaseTable   = "route_leaks"
	DefaultCountryTable    = "asn_countries"
	DefaultKafkaTopic      = "bgp-leaks"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Config is the top-level configuration.
type Config struct {
	Detection DetectionConfig `mapstructure:"detection"`
	Fit       FitConfig       `mapstructure:"fit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	ASNData   string          `mapstructure:"asn_data"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// DetectionConfig holds the detection thresholds. A nil threshold was not
// configured: it takes its default for a manual run and is fitted otherwise.
type DetectionConfig struct {
	PfxPeakMinValue   *float64 `mapstructure:"pfx_peak_min_value"`
	CflPeakMinValue   *float64 `mapstructure:"cfl_peak_min_value"`
	MaxNbPeaks        *int     `mapstructure:"max_nb_peaks"`
	PercentSimilarity *float64 `mapstructure:"percent_similarity"`
	PercentStd        *float64 `mapstructure:"percent_std"`

	FitParams    bool   `mapstructure:"fit_params"`
	Strategy     string `mapstructure:"strategy"`
	MinDays      int    `mapstructure:"min_days"`
	DayTolerance int    `mapstructure:"day_tolerance"`
	Workers      int    `mapstructure:"workers"`
}

// FitConfig tunes the parameter search.
type FitConfig struct {
	MaxLeakFraction float64       `mapstructure:"max_leak_fraction"`
	MinCeiling      int           `mapstructure:"min_ceiling"`
	ParamsFile      string        `mapstructure:"params_file"` // explicit candidate list
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

// RedisConfig points at the optional fit cache.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DatabaseConfig points at the optional PostgreSQL event store.
type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	Table        string `mapstructure:"table"`
	CountryTable string `mapstructure:"country_table"`
}

// KafkaConfig configures the optional event publisher.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// MetricsConfig configures the metrics textfile written at exit.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Sentinel errors for configuration validation.
var (
	ErrInvalidStrategy     = errors.New("detection.strategy must be grid or elbow")
	ErrInvalidMinDays      = errors.New("detection.min_days must be non-negative")
	ErrInvalidDayTolerance = errors.New("detection.day_tolerance must be non-negative")
	ErrInvalidWorkers      = errors.New("detection.workers must be non-negative")
	ErrInvalidLogFormat    = errors.New("log.format must be text or json")
	ErrMissingKafkaTopic   = errors.New("kafka.topic is required when kafka.brokers is set")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if err := c.validateDetection(); err != nil {
		return err
	}
	if err := c.Grid().Validate(); err != nil {
		return fmt.Errorf("fit: %w", err)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return ErrMissingKafkaTopic
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return ErrInvalidLogFormat
	}
	return nil
}

func (c *Config) validateDetection() error {
	d := c.Detection
	if d.Strategy != fitter.StrategyGrid && d.Strategy != fitter.StrategyElbow {
		return ErrInvalidStrategy
	}
	if d.MinDays < 0 {
		return ErrInvalidMinDays
	}
	if d.DayTolerance < 0 {
		return ErrInvalidDayTolerance
	}
	if d.Workers < 0 {
		return ErrInvalidWorkers
	}
	if err := d.Parameters().Validate(); err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	return nil
}

// Parameters returns the configured thresholds, defaults filling the gaps.
func (d DetectionConfig) Parameters() models.Parameters {
	p := models.DefaultParameters()
	if d.PfxPeakMinValue != nil {
		p.PfxPeakMinValue = *d.PfxPeakMinValue
	}
	if d.CflPeakMinValue != nil {
		p.CflPeakMinValue = *d.CflPeakMinValue
	}
	if d.MaxNbPeaks != nil {
		p.MaxNbPeaks = *d.MaxNbPeaks
	}
	if d.PercentSimilarity != nil {
		p.PercentSimilarity = *d.PercentSimilarity
	}
	if d.PercentStd != nil {
		p.PercentStd = *d.PercentStd
	}
	return p
}

// Fixed returns the thresholds the fitter must keep.
func (d DetectionConfig) Fixed() fitter.Fixed {
	return fitter.Fixed{
		PfxPeakMinValue:   d.PfxPeakMinValue,
		CflPeakMinValue:   d.CflPeakMinValue,
		MaxNbPeaks:        d.MaxNbPeaks,
		PercentSimilarity: d.PercentSimilarity,
		PercentStd:        d.PercentStd,
	}
}

// Selection returns the parameter selection of a run.
func (d DetectionConfig) Selection() models.Selection {
	if d.FitParams {
		return models.Auto()
	}
	return models.Manual(d.Parameters())
}

// Grid returns the default search grid with the configured degeneracy
// bounds. Configured thresholds collapse their axis to a single value.
func (c *Config) Grid() fitter.Grid {
	g := fitter.DefaultGrid()
	g.MaxLeakFraction = c.Fit.MaxLeakFraction
	g.MinCeiling = c.Fit.MinCeiling

	d := c.Detection
	if d.PfxPeakMinValue != nil {
		g.PfxPeakMinValues = []float64{*d.PfxPeakMinValue}
	}
	if d.CflPeakMinValue != nil {
		g.CflPeakMinValues = []float64{*d.CflPeakMinValue}
	}
	if d.MaxNbPeaks != nil {
		g.MaxNbPeaks = []int{*d.MaxNbPeaks}
	}
	if d.PercentSimilarity != nil {
		g.PercentSimilarities = []float64{*d.PercentSimilarity}
	}
	if d.PercentStd != nil {
		g.PercentStds = []float64{*d.PercentStd}
	}
	return g
}
