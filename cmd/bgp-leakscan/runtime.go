package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/config"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/database"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/dataset"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/detector"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/fitter"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/metrics"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/publish"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const pingTimeout = 5 * time.Second

// configKeys maps command-line flags to configuration keys. Only flags the
// user set override the file and environment.
var configKeys = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"pfx-min":        "detection.pfx_peak_min_value",
	"cfl-min":        "detection.cfl_peak_min_value",
	"max-nb-peaks":   "detection.max_nb_peaks",
	"similarity":     "detection.percent_similarity",
	"std":            "detection.percent_std",
	"fit-params":     "detection.fit_params",
	"strategy":       "detection.strategy",
	"min-days":       "detection.min_days",
	"day-tolerance":  "detection.day_tolerance",
	"workers":        "detection.workers",
	"params-file":    "fit.params_file",
	"redis":          "redis.url",
	"database":       "database.url",
	"asn-data":       "asn_data",
	"metrics-file":   "metrics.textfile",
	"kafka-topic":    "kafka.topic",
	"max-leak-ratio": "fit.max_leak_fraction",
}

// addDetectionFlags registers the parameter flags shared by detect, fit and explain.
func addDetectionFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Float64("pfx-min", 0, "minimum prefix count of a peak (pfx_peak_min_value)")
	flags.Float64("cfl-min", 0, "minimum conflict count of a peak (cfl_peak_min_value)")
	flags.Int("max-nb-peaks", 0, "keep at most this many peaks per series")
	flags.Float64("similarity", 0, "minimum height similarity of tolerant matches, in [0,1]")
	flags.Float64("std", 0, "peaks must exceed mean + std * stddev (percent_std)")
	flags.Bool("fit-params", false, "fit the parameters that are not set explicitly")
	flags.String("strategy", "", "fit strategy (grid or elbow)")
	flags.String("params-file", "", "explicit candidate list for the grid strategy")
	flags.Float64("max-leak-ratio", 0, "fraction of days above which a candidate is degenerate")
	flags.Int("min-days", 0, "skip ASes with fewer days of data")
	flags.Int("day-tolerance", 0, "pair peaks up to this many days apart")
	flags.Int("workers", 0, "number of worker goroutines (0 = one per CPU)")
	flags.String("redis", "", "Redis URL of the fit cache (e.g. redis://localhost:6379)")
	flags.String("jsonl", "", "read JSON-lines documents instead of a prepared file pair")
	flags.String("start-date", "", "date of day 0 (YYYY-MM-DD), overrides the input files")
	flags.String("from", "", "first day to analyse (YYYY-MM-DD, needs a start date)")
	flags.String("to", "", "last day to analyse (YYYY-MM-DD, needs a start date)")
}

// overrides collects the flags the user set on cmd.
func overrides(cmd *cobra.Command) map[string]interface{} {
	out := make(map[string]interface{})
	for name, key := range configKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		out[key] = f.Value.String()
	}
	return out
}

// loadConfig loads the configuration and configures logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile, overrides(cmd))
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// runtime holds the connections and collaborators of one command.
type runtime struct {
	cfg     *config.Config
	metrics *metrics.Recorder
	redis   *redis.Client
	db      *sql.DB
}

func newRuntime(ctx context.Context, cfg *config.Config) *runtime {
	rt := &runtime{cfg: cfg}
	if cfg.Metrics.Textfile != "" {
		rt.metrics = metrics.NewRecorder()
	}
	if cfg.Redis.URL != "" {
		rt.redis = connectRedis(ctx, cfg.Redis.URL)
	}
	return rt
}

// connectRedis returns nil when Redis is unusable: the fit cache then stays
// in process.
func connectRedis(ctx context.Context, url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Warnf("Invalid Redis URL: %v", err)
		return nil
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warnf("Redis connection failed, fit cache is local only: %v", err)
		client.Close()
		return nil
	}
	log.Infof("Connected to Redis: %s", opt.Addr)
	return client
}

// Close releases connections and writes the metrics textfile.
func (rt *runtime) Close() {
	if rt.redis != nil {
		rt.redis.Close()
	}
	if rt.db != nil {
		rt.db.Close()
	}
	if path := rt.cfg.Metrics.Textfile; path != "" {
		if err := rt.metrics.WriteTextfile(path); err != nil {
			log.Warnf("Failed to write metrics to %s: %v", path, err)
		} else {
			log.Debugf("Metrics written to %s", path)
		}
	}
}

func (rt *runtime) matcher() detector.Matcher {
	return detector.Matcher{DayTolerance: rt.cfg.Detection.DayTolerance}
}

// newFitter builds the configured fitter. Candidates are evaluated
// concurrently, so each one runs on a single-worker engine.
func (rt *runtime) newFitter() (fitter.KeyedFitter, error) {
	d := rt.cfg.Detection
	runner := detector.NewEngine(
		detector.WithWorkers(1),
		detector.WithMatcher(rt.matcher()),
		detector.WithMinDays(d.MinDays),
	)
	opts := []fitter.Option{fitter.WithWorkers(d.Workers), fitter.WithMetrics(rt.metrics)}

	if d.Strategy == fitter.StrategyElbow {
		return fitter.NewElbowFitter(fitter.DefaultSweeps(), d.Fixed(), runner, opts...), nil
	}

	grid := rt.cfg.Grid()
	if path := rt.cfg.Fit.ParamsFile; path != "" {
		explicit, err := dataset.LoadParameters(path)
		if err != nil {
			return nil, err
		}
		if len(explicit) == 0 {
			return nil, fmt.Errorf("%s holds no parameter set: %w", path, fitter.ErrInvalidSearchSpace)
		}
		grid.Explicit = explicit
		log.Infof("Using %d candidates from %s", len(explicit), path)
	}
	return fitter.NewGridFitter(grid, runner, opts...), nil
}

// newEngine builds the detection engine with a cached fitter.
func (rt *runtime) newEngine() (*detector.Engine, error) {
	f, err := rt.newFitter()
	if err != nil {
		return nil, err
	}
	cache := fitter.NewCache(rt.redis, rt.cfg.Fit.CacheTTL)
	d := rt.cfg.Detection
	return detector.NewEngine(
		detector.WithWorkers(d.Workers),
		detector.WithMatcher(rt.matcher()),
		detector.WithMinDays(d.MinDays),
		detector.WithFitter(fitter.NewCachedFitter(f, cache, rt.metrics)),
		detector.WithMetrics(rt.metrics),
	), nil
}

// sinks opens the configured event sinks. The returned resolver is never nil.
func (rt *runtime) sinks(ctx context.Context) (publish.MultiSink, publish.CountryResolver, error) {
	var sinks publish.MultiSink

	if url := rt.cfg.Database.URL; url != "" {
		db, err := database.Open(ctx, url)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		rt.db = db
		writer := database.NewLeakWriter(db, rt.cfg.Database.Table)
		if err := writer.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, writer)
		log.Info("Database writer ready")
	}

	if k := rt.cfg.Kafka; len(k.Brokers) > 0 {
		publisher, err := publish.NewKafkaPublisher(k.Brokers, k.Topic)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, publisher)
		log.Infof("Kafka publisher ready on topic %s", k.Topic)
	}

	return sinks, rt.resolver(ctx), nil
}

// resolver picks the country source. Priority: CSV file > database > none.
func (rt *runtime) resolver(ctx context.Context) database.CountryResolver {
	if path := rt.cfg.ASNData; path != "" {
		r, err := database.LoadCountryFile(path)
		if err == nil {
			log.Infof("Using file-based ASN resolver: %s (%s ASNs)", path, humanize.Comma(int64(r.Count())))
			return r
		}
		log.Warnf("Failed to load ASN data from %s: %v", path, err)
	} else if rt.db != nil {
		r, err := database.LoadCountryTable(ctx, rt.db, rt.cfg.Database.CountryTable)
		if err == nil {
			return r
		}
		log.Warnf("Failed to load ASN countries from the database: %v", err)
	}
	return database.NullResolver{}
}

// loadInput reads either a prepared file pair or a JSON-lines file.
func loadInput(cmd *cobra.Command, args []string) (*dataset.Loaded, error) {
	jsonl, _ := cmd.Flags().GetString("jsonl")

	var loaded *dataset.Loaded
	var err error
	switch {
	case jsonl != "" && len(args) > 0:
		return nil, errors.New("use either --jsonl or a prefix and conflict file, not both")
	case jsonl != "":
		loaded, err = dataset.LoadDocuments(jsonl)
	case len(args) == 2:
		loaded, err = dataset.LoadPrepared(args[0], args[1])
	default:
		return nil, errors.New("expected <prefixes> <conflicts> files or --jsonl")
	}
	if err != nil {
		return nil, err
	}

	if s, _ := cmd.Flags().GetString("start-date"); s != "" {
		start, err := time.Parse(dataset.DateFormat, s)
		if err != nil {
			return nil, fmt.Errorf("--start-date: %w", err)
		}
		loaded.StartDate = start
	}

	var bounds [2]time.Time
	for i, name := range []string{"from", "to"} {
		s, _ := cmd.Flags().GetString(name)
		if s == "" {
			continue
		}
		d, err := time.Parse(dataset.DateFormat, s)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", name, err)
		}
		bounds[i] = d
	}
	return loaded.Window(bounds[0], bounds[1])
}
