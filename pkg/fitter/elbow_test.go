package fitter

import (
	"context"
	"sync"
	"testing"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/detector"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	elbowPoints = []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	elbowCounts = []int{100, 100, 100, 100, 80, 60, 40, 20, 20, 20, 20, 20}
)

// curveRunner reports as many leaking ASes as the elbow curve gives for
// the value of one parameter.
type curveRunner struct {
	value func(models.Parameters) float64

	mu   sync.Mutex
	seen []models.Parameters
}

func (r *curveRunner) Run(_ context.Context, _ *models.Dataset, sel models.Selection) (*models.LeakReport, error) {
	p := sel.Parameters()
	r.mu.Lock()
	r.seen = append(r.seen, p)
	r.mu.Unlock()

	report := models.NewLeakReport(p)
	count := 0
	for i, x := range elbowPoints {
		if x == r.value(p) {
			count = elbowCounts[i]
		}
	}
	for asn := 1; asn <= count; asn++ {
		report.Entries[uint32(asn)] = models.LeakEntry{Leaks: []int{0}}
	}
	return report, nil
}

func ptr[T any](v T) *T { return &v }

func TestBreakpoints(t *testing.T) {
	score, first, second := breakpoints(elbowPoints, elbowCounts)
	assert.InDelta(t, 1, score, 1e-9)
	assert.Equal(t, 3, first)
	assert.Equal(t, 7, second)
}

func TestBreakpoints_Noisy(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	counts := []int{50, 47, 45, 30, 16, 3, 2, 2}

	score, first, second := breakpoints(x, counts)
	assert.Less(t, score, 1.0)
	assert.GreaterOrEqual(t, first, 2)
	assert.GreaterOrEqual(t, second, first+2)
	assert.Less(t, second, len(x)-1)
}

func TestSegmentScore_Flat(t *testing.T) {
	x := []float64{1, 2, 3}
	assert.Equal(t, 1.0, segmentScore(x, []float64{5, 5, 5}, 0, 2))
}

func TestElbowFitter_SelectiveBreakpoint(t *testing.T) {
	fixed := Fixed{
		CflPeakMinValue:   ptr(5.0),
		MaxNbPeaks:        ptr(2),
		PercentSimilarity: ptr(0.9),
		PercentStd:        ptr(0.9),
	}
	runner := &curveRunner{value: func(p models.Parameters) float64 { return p.PfxPeakMinValue }}
	sweeps := Sweeps{PfxPeakMinValue: elbowPoints}

	params, results, err := NewElbowFitter(sweeps, fixed, runner).FitDetailed(context.Background(), newDataset(t, spikeSeries(1)))
	require.NoError(t, err)

	assert.Equal(t, models.Parameters{
		PfxPeakMinValue:   8,
		CflPeakMinValue:   5,
		MaxNbPeaks:        2,
		PercentSimilarity: 0.9,
		PercentStd:        0.9,
	}, params)
	require.Len(t, results, 1)
	assert.Equal(t, "pfx_peak_min_value", results[0].Name)
	assert.Equal(t, 4.0, results[0].First)
	assert.Equal(t, 8.0, results[0].Second)
	assert.Equal(t, elbowCounts, results[0].Counts)

	require.Len(t, runner.seen, len(elbowPoints))
	for _, p := range runner.seen {
		assert.Equal(t, 400, p.MaxNbPeaks)
		assert.Zero(t, p.CflPeakMinValue)
	}
}

func TestElbowFitter_MaxNbPeaksUsesFirstBreakpoint(t *testing.T) {
	fixed := Fixed{
		PfxPeakMinValue:   ptr(10.0),
		CflPeakMinValue:   ptr(5.0),
		PercentSimilarity: ptr(0.9),
		PercentStd:        ptr(0.9),
	}
	runner := &curveRunner{value: func(p models.Parameters) float64 { return float64(p.MaxNbPeaks) }}
	sweeps := Sweeps{MaxNbPeaks: elbowPoints}

	params, err := NewElbowFitter(sweeps, fixed, runner, WithWorkers(3)).Fit(context.Background(), newDataset(t, spikeSeries(1)))
	require.NoError(t, err)
	assert.Equal(t, 4, params.MaxNbPeaks)
	assert.Equal(t, 10.0, params.PfxPeakMinValue)
}

func TestElbowFitter_Errors(t *testing.T) {
	runner := detector.NewEngine()

	t.Run("no data", func(t *testing.T) {
		_, err := NewElbowFitter(DefaultSweeps(), Fixed{}, runner).Fit(context.Background(), newDataset(t))
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("short sweep", func(t *testing.T) {
		sweeps := DefaultSweeps()
		sweeps.PercentStd = []float64{0, 1, 2}
		_, err := NewElbowFitter(sweeps, Fixed{}, runner).Fit(context.Background(), newDataset(t, spikeSeries(1)))
		assert.ErrorIs(t, err, ErrInvalidSearchSpace)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewElbowFitter(DefaultSweeps(), Fixed{}, runner).Fit(ctx, newDataset(t, spikeSeries(1)))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestElbowFitter_RealEngine(t *testing.T) {
	ds := newDataset(t, spikeSeries(1), noisySeries(2), spikeSeries(3))
	engine := detector.NewEngine(detector.WithWorkers(1))

	params, err := NewElbowFitter(DefaultSweeps(), Fixed{}, engine).Fit(context.Background(), ds)
	require.NoError(t, err)
	assert.NoError(t, params.Validate())
}

func TestElbowFitter_CacheKey(t *testing.T) {
	a := NewElbowFitter(DefaultSweeps(), Fixed{}, nil)
	b := NewElbowFitter(DefaultSweeps(), Fixed{PercentStd: ptr(1.0)}, nil)

	assert.Equal(t, a.CacheKey(), NewElbowFitter(DefaultSweeps(), Fixed{}, nil).CacheKey())
	assert.NotEqual(t, a.CacheKey(), b.CacheKey())

	c := NewElbowFitter(DefaultSweeps(), Fixed{}, detector.NewEngine(detector.WithMinDays(100)))
	assert.NotEqual(t, a.CacheKey(), c.CacheKey())
}

func TestDefaultSweeps(t *testing.T) {
	s := DefaultSweeps()
	assert.Len(t, s.PfxPeakMinValue, 50)
	assert.Equal(t, 1.0, s.MaxNbPeaks[0])
	assert.Equal(t, 50.0, s.MaxNbPeaks[49])
	assert.Equal(t, 0.3, s.PercentSimilarity[2])
	assert.Equal(t, 5.0, s.PercentStd[9])
}
