package detector

import "fmt"

// Rejection causes returned by Explain.
const (
	CauseOutOfRange   = "out of range"
	CauseNotLocalMax  = "not a local max"
	CauseMinValue     = "below min value"
	CauseSignificance = "below significance gate"
	CauseMaxNbPeaks   = "truncated by max_nb_peaks"
	CausePeak         = "peak"
)

// Rejection explains the outcome of FindPeaks for one day.
type Rejection struct {
	Day   int     `json:"day"`
	Cause string  `json:"cause"`
	Value float64 `json:"value"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Gate  float64 `json:"gate"`
	Rank  int     `json:"rank,omitempty"` // 1-based rank among candidates
}

func (r Rejection) String() string {
	switch r.Cause {
	case CauseOutOfRange:
		return fmt.Sprintf("day %d: %s", r.Day, r.Cause)
	case CauseSignificance:
		return fmt.Sprintf("day %d: %s (value=%g gate=%g mean=%g std=%g)", r.Day, r.Cause, r.Value, r.Gate, r.Mean, r.Std)
	case CauseMaxNbPeaks, CausePeak:
		return fmt.Sprintf("day %d: %s (value=%g rank=%d)", r.Day, r.Cause, r.Value, r.Rank)
	default:
		return fmt.Sprintf("day %d: %s (value=%g)", r.Day, r.Cause, r.Value)
	}
}

// Explain reports why day is, or is not, returned by FindPeaks with the
// same arguments. Checks are applied in FindPeaks order.
func Explain(series []float64, day int, minValue float64, maxNbPeaks int, percentStd float64) Rejection {
	r := Rejection{Day: day, Cause: CauseOutOfRange}
	if day < 0 || day >= len(series) {
		return r
	}
	r.Value = series[day]
	r.Mean, r.Std, r.Gate = significanceGate(series, percentStd)

	switch {
	case !isLocalMax(series, day):
		r.Cause = CauseNotLocalMax
		return r
	case r.Value < minValue:
		r.Cause = CauseMinValue
		return r
	case r.Value < r.Gate:
		r.Cause = CauseSignificance
		return r
	}

	peaks := candidates(series, minValue, percentStd)
	sortPeaks(peaks)
	for i, p := range peaks {
		if p.Day == day {
			r.Rank = i + 1
			break
		}
	}
	if r.Rank > maxNbPeaks {
		r.Cause = CauseMaxNbPeaks
		return r
	}
	r.Cause = CausePeak
	return r
}
