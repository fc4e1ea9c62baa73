// Package detector finds full-view route leaks: days on which both the
// announced-prefix series and the conflict series of an AS peak together.
package detector

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/metrics"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	log "github.com/sirupsen/logrus"
)

// ErrNoFitter is returned when automatic parameters are requested from an
// engine built without a fitter.
var ErrNoFitter = errors.New("automatic parameters requested but no fitter configured")

// Fitter derives detection parameters from a dataset.
type Fitter interface {
	Fit(ctx context.Context, data *models.Dataset) (models.Parameters, error)
}

// LeakFinder is the contract shared by every AS-day leak detector.
type LeakFinder interface {
	Find(ctx context.Context, data *models.Dataset) (*models.LeakReport, error)
}

// Engine runs peak detection and matching over every AS of a dataset.
// An Engine is safe for concurrent use.
type Engine struct {
	workers int
	matcher Matcher
	fitter  Fitter
	minDays int
	metrics *metrics.Recorder
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWorkers sets the number of goroutines sharing the ASes. n <= 0 keeps the default.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMatcher replaces the strict same-day matcher.
func WithMatcher(m Matcher) EngineOption {
	return func(e *Engine) { e.matcher = m }
}

// WithFitter sets the fitter used for automatic parameters.
func WithFitter(f Fitter) EngineOption {
	return func(e *Engine) { e.fitter = f }
}

// WithMinDays skips ASes whose series cover fewer than n days.
func WithMinDays(n int) EngineOption {
	return func(e *Engine) { e.minDays = n }
}

// WithMetrics records run metrics.
func WithMetrics(r *metrics.Recorder) EngineOption {
	return func(e *Engine) { e.metrics = r }
}

// NewEngine creates an engine using one worker per CPU by default.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CacheKey describes the settings that change which days a run reports,
// other than the parameters themselves.
func (e *Engine) CacheKey() string {
	return fmt.Sprintf("min_days=%d;tolerance=%d", e.minDays, e.matcher.DayTolerance)
}

// asResult is the outcome for one distinct series.
type asResult struct {
	leaks   []int
	invalid string
}

// Run detects leaks in data. With an automatic selection the fitter runs
// first over the same data and its parameters are used for every AS.
// Malformed series are reported in LeakReport.Invalid and do not stop the run.
func (e *Engine) Run(ctx context.Context, data *models.Dataset, sel models.Selection) (*models.LeakReport, error) {
	params := sel.Parameters()
	if sel.IsAuto() {
		if e.fitter == nil {
			return nil, ErrNoFitter
		}
		fitted, err := e.fitter.Fit(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("fit parameters: %w", err)
		}
		log.WithField("params", fitted.String()).Info("Using fitted parameters")
		params = fitted
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return e.detect(ctx, data, params)
}

// Finder binds a parameter selection to the engine.
func (e *Engine) Finder(sel models.Selection) LeakFinder {
	return &engineFinder{engine: e, sel: sel}
}

type engineFinder struct {
	engine *Engine
	sel    models.Selection
}

func (f *engineFinder) Find(ctx context.Context, data *models.Dataset) (*models.LeakReport, error) {
	return f.engine.Run(ctx, data, f.sel)
}

func (e *Engine) detect(ctx context.Context, data *models.Dataset, params models.Parameters) (*models.LeakReport, error) {
	start := time.Now()
	report := models.NewLeakReport(params)
	n := data.Len()
	if n == 0 {
		return report, nil
	}

	reps := data.Representatives()
	results := make([]asResult, n)

	workers := e.workers
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan int, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = e.detectOne(data.At(i), params)
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		if reps[i] != i {
			continue
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("detection interrupted: %w", err)
	}

	for i := 0; i < n; i++ {
		ts := data.At(i)
		res := results[reps[i]]
		if res.invalid != "" {
			report.Invalid = append(report.Invalid, &models.InvalidSeriesError{ASN: ts.ASN, Reason: res.invalid})
			continue
		}
		if len(res.leaks) == 0 {
			continue
		}
		report.Entries[ts.ASN] = models.LeakEntry{
			Leaks:     res.leaks,
			Prefixes:  ts.Prefixes,
			Conflicts: ts.Conflicts,
		}
	}

	elapsed := time.Since(start)
	e.metrics.ObserveRun(elapsed, n, len(report.Invalid), report.Detections())
	log.WithFields(log.Fields{
		"ases":     n,
		"leaking":  len(report.Entries),
		"invalid":  len(report.Invalid),
		"duration": elapsed,
	}).Debug("Detection pass complete")

	return report, nil
}

func (e *Engine) detectOne(ts models.TimeSeries, params models.Parameters) asResult {
	if err := ts.Validate(); err != nil {
		var invalid *models.InvalidSeriesError
		if errors.As(err, &invalid) {
			return asResult{invalid: invalid.Reason}
		}
		return asResult{invalid: err.Error()}
	}
	if ts.Days() < e.minDays {
		return asResult{}
	}

	pfxPeaks := FindPeaks(ts.Prefixes, params.PfxPeakMinValue, params.MaxNbPeaks, params.PercentStd)
	if len(pfxPeaks) == 0 {
		return asResult{}
	}
	cflPeaks := FindPeaks(ts.Conflicts, params.CflPeakMinValue, params.MaxNbPeaks, params.PercentStd)

	return asResult{leaks: e.matcher.Match(pfxPeaks, cflPeaks, params.PercentSimilarity)}
}
