package detector

import (
	"sort"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	"gonum.org/v1/gonum/stat"
)

// FindPeaks returns the significant local maxima of a daily series.
//
// A day is kept when its value is a strict local maximum (a boundary day
// only needs to beat its single neighbour), is at least minValue, and is at
// least mean + percentStd * stddev of the whole series. Peaks are ordered by
// descending value then ascending day, and at most maxNbPeaks are returned.
func FindPeaks(series []float64, minValue float64, maxNbPeaks int, percentStd float64) models.PeakSet {
	if maxNbPeaks <= 0 {
		return models.PeakSet{}
	}

	peaks := candidates(series, minValue, percentStd)
	sortPeaks(peaks)
	if len(peaks) > maxNbPeaks {
		peaks = peaks[:maxNbPeaks]
	}
	return peaks
}

// significanceGate returns the series mean, population stddev and the
// value a peak must reach. A constant series has stddev 0 and the gate is the mean.
func significanceGate(series []float64, percentStd float64) (mean, std, gate float64) {
	mean, std = stat.PopMeanStdDev(series, nil)
	return mean, std, mean + percentStd*std
}

func candidates(series []float64, minValue, percentStd float64) models.PeakSet {
	if len(series) < 2 {
		return models.PeakSet{}
	}

	_, _, gate := significanceGate(series, percentStd)
	maxValue := seriesMax(series)

	peaks := models.PeakSet{}
	for i, v := range series {
		if !isLocalMax(series, i) || v < minValue || v < gate {
			continue
		}
		peaks = append(peaks, models.Peak{Day: i, Value: v, Height: v / maxValue})
	}
	return peaks
}

// isLocalMax reports whether series[i] is strictly greater than its neighbours.
func isLocalMax(series []float64, i int) bool {
	n := len(series)
	if n < 2 || i < 0 || i >= n {
		return false
	}
	switch i {
	case 0:
		return series[0] > series[1]
	case n - 1:
		return series[n-1] > series[n-2]
	default:
		return series[i] > series[i-1] && series[i] > series[i+1]
	}
}

func sortPeaks(peaks models.PeakSet) {
	sort.SliceStable(peaks, func(i, j int) bool {
		if peaks[i].Value != peaks[j].Value {
			return peaks[i].Value > peaks[j].Value
		}
		return peaks[i].Day < peaks[j].Day
	})
}

func seriesMax(series []float64) float64 {
	maxValue := series[0]
	for _, v := range series[1:] {
		if v > maxValue {
			maxValue = v
		}
	}
	return maxValue
}
