// Package fitter selects detection parameters from the data itself.
//
// Two strategies are available. GridFitter runs the detector for every
// parameter combination of a Grid and keeps the one that reports the most
// (AS, day) leaks without flagging an implausible number of days for any AS.
// ElbowFitter sweeps one parameter at a time and picks the breakpoint of the
// resulting curve.
package fitter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/detector"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/metrics"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNoData is returned when fitting on an empty dataset.
	ErrNoData = errors.New("no data to fit parameters on")
	// ErrInvalidSearchSpace is returned for empty or out-of-range axes.
	ErrInvalidSearchSpace = errors.New("invalid search space")
	// ErrDegenerateSearch is returned when every candidate flags too many days.
	ErrDegenerateSearch = errors.New("every candidate parameter set is degenerate")
)

// Strategy names
const (
	StrategyGrid  = "grid"
	StrategyElbow = "elbow"
)

// Runner runs one detection pass. *detector.Engine implements it.
type Runner interface {
	Run(ctx context.Context, data *models.Dataset, sel models.Selection) (*models.LeakReport, error)
}

// runnerKey returns the runner's own cache key, if it has one.
func runnerKey(r Runner) string {
	if k, ok := r.(interface{ CacheKey() string }); ok {
		return k.CacheKey()
	}
	return ""
}

// Grid is the search space explored by GridFitter.
type Grid struct {
	PfxPeakMinValues    []float64 `mapstructure:"pfx_peak_min_values"`
	CflPeakMinValues    []float64 `mapstructure:"cfl_peak_min_values"`
	MaxNbPeaks          []int     `mapstructure:"max_nb_peaks"`
	PercentSimilarities []float64 `mapstructure:"percent_similarities"`
	PercentStds         []float64 `mapstructure:"percent_stds"`

	// Explicit replaces the cartesian product when non-empty.
	Explicit []models.Parameters `mapstructure:"-"`

	// A candidate is degenerate when an AS gets more leak days than
	// max(MinCeiling, floor(MaxLeakFraction * days)).
	MaxLeakFraction float64 `mapstructure:"max_leak_fraction"`
	MinCeiling      int     `mapstructure:"min_ceiling"`
}

// DefaultGrid returns a compact grid around the historical defaults.
func DefaultGrid() Grid {
	return Grid{
		PfxPeakMinValues:    []float64{0, 5, 10, 20, 50},
		CflPeakMinValues:    []float64{0, 5, 10, 20},
		MaxNbPeaks:          []int{1, 2, 3, 5},
		PercentSimilarities: []float64{0.9},
		PercentStds:         []float64{0, 0.5, 1, 2, 3},
		MaxLeakFraction:     0.1,
		MinCeiling:          1,
	}
}

// Validate checks the grid bounds and every candidate.
func (g Grid) Validate() error {
	if math.IsNaN(g.MaxLeakFraction) || g.MaxLeakFraction <= 0 || g.MaxLeakFraction > 1 {
		return fmt.Errorf("max_leak_fraction %g not in (0,1]: %w", g.MaxLeakFraction, ErrInvalidSearchSpace)
	}
	if g.MinCeiling < 1 {
		return fmt.Errorf("min_ceiling %d < 1: %w", g.MinCeiling, ErrInvalidSearchSpace)
	}
	if len(g.Explicit) == 0 {
		switch {
		case len(g.PfxPeakMinValues) == 0:
			return fmt.Errorf("empty pfx_peak_min_values axis: %w", ErrInvalidSearchSpace)
		case len(g.CflPeakMinValues) == 0:
			return fmt.Errorf("empty cfl_peak_min_values axis: %w", ErrInvalidSearchSpace)
		case len(g.MaxNbPeaks) == 0:
			return fmt.Errorf("empty max_nb_peaks axis: %w", ErrInvalidSearchSpace)
		case len(g.PercentSimilarities) == 0:
			return fmt.Errorf("empty percent_similarities axis: %w", ErrInvalidSearchSpace)
		case len(g.PercentStds) == 0:
			return fmt.Errorf("empty percent_stds axis: %w", ErrInvalidSearchSpace)
		}
	}
	for _, p := range g.Candidates() {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("candidate %s: %v: %w", p, err, ErrInvalidSearchSpace)
		}
	}
	return nil
}

// Candidates enumerates the grid in a fixed order.
func (g Grid) Candidates() []models.Parameters {
	if len(g.Explicit) > 0 {
		return append([]models.Parameters(nil), g.Explicit...)
	}
	n := len(g.PfxPeakMinValues) * len(g.CflPeakMinValues) * len(g.MaxNbPeaks) *
		len(g.PercentSimilarities) * len(g.PercentStds)
	out := make([]models.Parameters, 0, n)
	for _, pfx := range g.PfxPeakMinValues {
		for _, cfl := range g.CflPeakMinValues {
			for _, nb := range g.MaxNbPeaks {
				for _, sim := range g.PercentSimilarities {
					for _, std := range g.PercentStds {
						out = append(out, models.Parameters{
							PfxPeakMinValue:   pfx,
							CflPeakMinValue:   cfl,
							MaxNbPeaks:        nb,
							PercentSimilarity: sim,
							PercentStd:        std,
						})
					}
				}
			}
		}
	}
	return out
}

// Ceiling returns the largest number of leak days an AS may get before a
// candidate is considered degenerate.
func (g Grid) Ceiling(days int) int {
	ceiling := int(math.Floor(g.MaxLeakFraction * float64(days)))
	if ceiling < g.MinCeiling {
		ceiling = g.MinCeiling
	}
	return ceiling
}

// Candidate is the evaluation of one parameter set.
type Candidate struct {
	Params        models.Parameters `json:"params"`
	Detections    int               `json:"detections"`
	LeakingASes   int               `json:"leaking_ases"`
	MaxLeaksPerAS int               `json:"max_leaks_per_as"`
	Degenerate    bool              `json:"degenerate"`
}

// better reports whether a should be preferred over b: more detections,
// then stricter thresholds.
func better(a, b Candidate) bool {
	if a.Detections != b.Detections {
		return a.Detections > b.Detections
	}
	pa, pb := a.Params, b.Params
	if pa.PercentStd != pb.PercentStd {
		return pa.PercentStd > pb.PercentStd
	}
	if pa.PfxPeakMinValue != pb.PfxPeakMinValue {
		return pa.PfxPeakMinValue > pb.PfxPeakMinValue
	}
	if pa.CflPeakMinValue != pb.CflPeakMinValue {
		return pa.CflPeakMinValue > pb.CflPeakMinValue
	}
	if pa.PercentSimilarity != pb.PercentSimilarity {
		return pa.PercentSimilarity > pb.PercentSimilarity
	}
	return pa.MaxNbPeaks < pb.MaxNbPeaks
}

// Best returns the index of the preferred non-degenerate candidate, or -1.
func Best(candidates []Candidate) int {
	best := -1
	for i, c := range candidates {
		if c.Degenerate {
			continue
		}
		if best < 0 || better(c, candidates[best]) {
			best = i
		}
	}
	return best
}

// Option configures a fitter.
type Option func(*options)

type options struct {
	workers int
	metrics *metrics.Recorder
}

// WithWorkers sets how many candidates are evaluated concurrently.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithMetrics records fit metrics.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *options) { o.metrics = r }
}

func newOptions(opts []Option) options {
	o := options{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// GridFitter evaluates every candidate of a Grid.
type GridFitter struct {
	grid   Grid
	runner Runner
	opts   options
}

// NewGridFitter creates a grid fitter. The runner should be single-worker:
// parallelism comes from evaluating candidates concurrently.
func NewGridFitter(grid Grid, runner Runner, opts ...Option) *GridFitter {
	return &GridFitter{grid: grid, runner: runner, opts: newOptions(opts)}
}

var _ detector.Fitter = (*GridFitter)(nil)

// CacheKey identifies the grid and the runner settings for the fit cache.
func (f *GridFitter) CacheKey() string {
	desc := fmt.Sprintf("%+v|%s", f.grid, runnerKey(f.runner))
	return fmt.Sprintf("%s:%016x", StrategyGrid, xxhash.Sum64String(desc))
}

// Evaluate runs the detector for every candidate, in grid order.
func (f *GridFitter) Evaluate(ctx context.Context, data *models.Dataset) ([]Candidate, error) {
	if data.Len() == 0 {
		return nil, ErrNoData
	}
	if err := f.grid.Validate(); err != nil {
		return nil, err
	}

	params := f.grid.Candidates()
	ceiling := f.grid.Ceiling(data.Days())
	results := make([]Candidate, len(params))
	errs := make([]error, len(params))

	parallelEach(ctx, len(params), f.opts.workers, func(i int) {
		report, err := f.runner.Run(ctx, data, models.Manual(params[i]))
		if err != nil {
			errs[i] = err
			return
		}
		maxLeaks := report.MaxLeaksPerAS()
		results[i] = Candidate{
			Params:        params[i],
			Detections:    report.Detections(),
			LeakingASes:   len(report.Entries),
			MaxLeaksPerAS: maxLeaks,
			Degenerate:    maxLeaks > ceiling,
		}
	})

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("grid search interrupted: %w", err)
	}
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", params[i], err)
		}
	}
	return results, nil
}

// Fit returns the best non-degenerate candidate.
func (f *GridFitter) Fit(ctx context.Context, data *models.Dataset) (models.Parameters, error) {
	start := time.Now()
	candidates, err := f.Evaluate(ctx, data)
	if err != nil {
		return models.Parameters{}, err
	}

	best := Best(candidates)
	degenerate := 0
	for _, c := range candidates {
		if c.Degenerate {
			degenerate++
		}
	}

	elapsed := time.Since(start)
	f.opts.metrics.ObserveFit(StrategyGrid, len(candidates), elapsed)
	if best < 0 {
		return models.Parameters{}, fmt.Errorf("%d candidates, ceiling %d leak days per AS: %w",
			len(candidates), f.grid.Ceiling(data.Days()), ErrDegenerateSearch)
	}

	log.WithFields(log.Fields{
		"candidates": len(candidates),
		"degenerate": degenerate,
		"detections": candidates[best].Detections,
		"duration":   elapsed,
	}).Infof("Grid fit selected %s", candidates[best].Params)
	return candidates[best].Params, nil
}

// parallelEach calls fn(i) for i in [0, n) on a pool of workers.
// Each index is handled once; fn must only write to its own slots.
func parallelEach(ctx context.Context, n, workers int, fn func(i int)) {
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
				fn(i)
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}
