package fitter

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/detector"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// minFitScore is the mean R² under which a breakpoint fit is reported as unreliable.
const minFitScore = 0.75

// minSweepPoints is the smallest sweep that can be split in three segments.
const minSweepPoints = 6

// Sweeps lists the values tried for each parameter.
type Sweeps struct {
	PfxPeakMinValue   []float64 `mapstructure:"pfx_peak_min_value"`
	CflPeakMinValue   []float64 `mapstructure:"cfl_peak_min_value"`
	MaxNbPeaks        []float64 `mapstructure:"max_nb_peaks"`
	PercentSimilarity []float64 `mapstructure:"percent_similarity"`
	PercentStd        []float64 `mapstructure:"percent_std"`
}

// DefaultSweeps mirrors the ranges used historically: 0..49 for the min
// values, 1..50 peaks, 0.1..1.0 similarity and 0.5..5.0 standard deviations.
func DefaultSweeps() Sweeps {
	return Sweeps{
		PfxPeakMinValue:   linspace(0, 1, 50),
		CflPeakMinValue:   linspace(0, 1, 50),
		MaxNbPeaks:        linspace(1, 1, 50),
		PercentSimilarity: linspace(0.1, 0.1, 10),
		PercentStd:        linspace(0.5, 0.5, 10),
	}
}

func linspace(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		// multiply instead of accumulating to keep 0.3 == 0.3
		out[i] = math.Round((start+float64(i)*step)*1e9) / 1e9
	}
	return out
}

// Fixed holds parameters supplied by the caller; they are not fitted.
type Fixed struct {
	PfxPeakMinValue   *float64
	CflPeakMinValue   *float64
	MaxNbPeaks        *int
	PercentSimilarity *float64
	PercentStd        *float64
}

// neutralParameters filter as little as possible.
func neutralParameters() models.Parameters {
	return models.Parameters{
		PfxPeakMinValue:   0,
		CflPeakMinValue:   0,
		MaxNbPeaks:        400,
		PercentSimilarity: 0,
		PercentStd:        0,
	}
}

type sweepParam struct {
	name      string
	points    []float64
	selective int // which breakpoint is the more selective one
	fixed     bool
	apply     func(p *models.Parameters, v float64)
}

// SweepResult is the fit of one parameter.
type SweepResult struct {
	Name   string    `json:"name"`
	Points []float64 `json:"points"`
	Counts []int     `json:"counts"`
	Score  float64   `json:"score"`
	First  float64   `json:"first_breakpoint"`
	Second float64   `json:"second_breakpoint"`
	Chosen float64   `json:"chosen"`
}

// ElbowFitter fits each free parameter independently: it runs the detector
// for every sweep value with the other parameters neutral, counts the ASes
// reported, approximates that curve with three line segments and keeps the
// more selective breakpoint.
type ElbowFitter struct {
	sweeps Sweeps
	fixed  Fixed
	runner Runner
	opts   options
}

// NewElbowFitter creates an elbow fitter.
func NewElbowFitter(sweeps Sweeps, fixed Fixed, runner Runner, opts ...Option) *ElbowFitter {
	return &ElbowFitter{sweeps: sweeps, fixed: fixed, runner: runner, opts: newOptions(opts)}
}

var _ detector.Fitter = (*ElbowFitter)(nil)

// CacheKey identifies the sweeps, the fixed values and the runner
// settings for the fit cache.
func (f *ElbowFitter) CacheKey() string {
	desc := fmt.Sprintf("%+v|%s|%s", f.sweeps, describeFixed(f.fixed), runnerKey(f.runner))
	return fmt.Sprintf("%s:%016x", StrategyElbow, xxhash.Sum64String(desc))
}

func describeFixed(fx Fixed) string {
	s := ""
	if fx.PfxPeakMinValue != nil {
		s += fmt.Sprintf("pfx=%g;", *fx.PfxPeakMinValue)
	}
	if fx.CflPeakMinValue != nil {
		s += fmt.Sprintf("cfl=%g;", *fx.CflPeakMinValue)
	}
	if fx.MaxNbPeaks != nil {
		s += fmt.Sprintf("nb=%d;", *fx.MaxNbPeaks)
	}
	if fx.PercentSimilarity != nil {
		s += fmt.Sprintf("sim=%g;", *fx.PercentSimilarity)
	}
	if fx.PercentStd != nil {
		s += fmt.Sprintf("std=%g;", *fx.PercentStd)
	}
	return s
}

func (f *ElbowFitter) params() []sweepParam {
	return []sweepParam{
		{
			name: "pfx_peak_min_value", points: f.sweeps.PfxPeakMinValue, selective: 1,
			fixed: f.fixed.PfxPeakMinValue != nil,
			apply: func(p *models.Parameters, v float64) { p.PfxPeakMinValue = v },
		},
		{
			name: "cfl_peak_min_value", points: f.sweeps.CflPeakMinValue, selective: 1,
			fixed: f.fixed.CflPeakMinValue != nil,
			apply: func(p *models.Parameters, v float64) { p.CflPeakMinValue = v },
		},
		{
			name: "max_nb_peaks", points: f.sweeps.MaxNbPeaks, selective: 0,
			fixed: f.fixed.MaxNbPeaks != nil,
			apply: func(p *models.Parameters, v float64) { p.MaxNbPeaks = int(v) },
		},
		{
			name: "percent_similarity", points: f.sweeps.PercentSimilarity, selective: 1,
			fixed: f.fixed.PercentSimilarity != nil,
			apply: func(p *models.Parameters, v float64) { p.PercentSimilarity = v },
		},
		{
			// larger multiples of the stddev are stricter
			name: "percent_std", points: f.sweeps.PercentStd, selective: 1,
			fixed: f.fixed.PercentStd != nil,
			apply: func(p *models.Parameters, v float64) { p.PercentStd = v },
		},
	}
}

// Fit returns the fitted parameters, keeping the fixed ones verbatim.
func (f *ElbowFitter) Fit(ctx context.Context, data *models.Dataset) (models.Parameters, error) {
	params, _, err := f.FitDetailed(ctx, data)
	return params, err
}

// FitDetailed also returns the sweep curve and breakpoints of every fitted parameter.
func (f *ElbowFitter) FitDetailed(ctx context.Context, data *models.Dataset) (models.Parameters, []SweepResult, error) {
	if data.Len() == 0 {
		return models.Parameters{}, nil, ErrNoData
	}

	start := time.Now()
	fitted := neutralParameters()
	var results []SweepResult
	evaluated := 0

	for _, sp := range f.params() {
		if sp.fixed {
			continue
		}
		res, err := f.sweep(ctx, data, sp)
		if err != nil {
			return models.Parameters{}, nil, err
		}
		evaluated += len(sp.points)
		if res.Score < minFitScore {
			log.WithFields(log.Fields{"param": sp.name, "score": res.Score}).Warn("Low linear regression score")
		}
		sp.apply(&fitted, res.Chosen)
		results = append(results, res)
	}

	f.applyFixed(&fitted)
	if err := fitted.Validate(); err != nil {
		return models.Parameters{}, nil, fmt.Errorf("fitted %s: %w", fitted, err)
	}

	elapsed := time.Since(start)
	f.opts.metrics.ObserveFit(StrategyElbow, evaluated, elapsed)
	log.WithFields(log.Fields{"sweeps": len(results), "duration": elapsed}).Infof("Elbow fit selected %s", fitted)
	return fitted, results, nil
}

func (f *ElbowFitter) applyFixed(p *models.Parameters) {
	if f.fixed.PfxPeakMinValue != nil {
		p.PfxPeakMinValue = *f.fixed.PfxPeakMinValue
	}
	if f.fixed.CflPeakMinValue != nil {
		p.CflPeakMinValue = *f.fixed.CflPeakMinValue
	}
	if f.fixed.MaxNbPeaks != nil {
		p.MaxNbPeaks = *f.fixed.MaxNbPeaks
	}
	if f.fixed.PercentSimilarity != nil {
		p.PercentSimilarity = *f.fixed.PercentSimilarity
	}
	if f.fixed.PercentStd != nil {
		p.PercentStd = *f.fixed.PercentStd
	}
}

func (f *ElbowFitter) sweep(ctx context.Context, data *models.Dataset, sp sweepParam) (SweepResult, error) {
	if len(sp.points) < minSweepPoints {
		return SweepResult{}, fmt.Errorf("%s: %d sweep points, need %d: %w",
			sp.name, len(sp.points), minSweepPoints, ErrInvalidSearchSpace)
	}

	counts := make([]int, len(sp.points))
	errs := make([]error, len(sp.points))
	parallelEach(ctx, len(sp.points), f.opts.workers, func(i int) {
		p := neutralParameters()
		sp.apply(&p, sp.points[i])
		report, err := f.runner.Run(ctx, data, models.Manual(p))
		if err != nil {
			errs[i] = err
			return
		}
		counts[i] = len(report.Entries)
	})
	if err := ctx.Err(); err != nil {
		return SweepResult{}, fmt.Errorf("%s sweep interrupted: %w", sp.name, err)
	}
	for i, err := range errs {
		if err != nil {
			return SweepResult{}, fmt.Errorf("%s=%g: %w", sp.name, sp.points[i], err)
		}
	}

	score, first, second := breakpoints(sp.points, counts)
	res := SweepResult{
		Name:   sp.name,
		Points: sp.points,
		Counts: counts,
		Score:  score,
		First:  sp.points[first],
		Second: sp.points[second],
	}
	res.Chosen = res.First
	if sp.selective == 1 {
		res.Chosen = res.Second
	}
	return res, nil
}

// breakpoints approximates (x, counts) with three consecutive line segments
// sharing their end points and returns the best mean R² with the indexes of
// the two inner end points. len(x) must be at least minSweepPoints.
func breakpoints(x []float64, counts []int) (score float64, first, second int) {
	y := make([]float64, len(counts))
	for i, c := range counts {
		y[i] = float64(c)
	}

	last := len(x) - 1
	score = math.Inf(-1)
	for i1 := 2; i1 < last; i1++ {
		s1 := segmentScore(x, y, 0, i1)
		for i2 := i1 + 2; i2 < last; i2++ {
			s := (s1 + segmentScore(x, y, i1, i2) + segmentScore(x, y, i2, last)) / 3
			if s > score {
				score, first, second = s, i1, i2
			}
		}
	}
	return score, first, second
}

// segmentScore is the R² of a least-squares line over x[lo..hi] inclusive.
// A segment fitted exactly scores 1 even when it is flat.
func segmentScore(x, y []float64, lo, hi int) float64 {
	xs, ys := x[lo:hi+1], y[lo:hi+1]
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		var residual float64
		for i := range xs {
			d := ys[i] - (alpha + beta*xs[i])
			residual += d * d
		}
		if residual < 1e-9 {
			return 1
		}
		return 0
	}
	return r2
}
