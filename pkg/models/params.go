package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParameters is wrapped by Parameters.Validate errors.
var ErrInvalidParameters = errors.New("invalid parameters")

// Parameters are the detection thresholds shared by every AS of a run.
type Parameters struct {
	PfxPeakMinValue   float64 `json:"pfx_peak_min_value" mapstructure:"pfx_peak_min_value"`
	CflPeakMinValue   float64 `json:"cfl_peak_min_value" mapstructure:"cfl_peak_min_value"`
	MaxNbPeaks        int     `json:"max_nb_peaks" mapstructure:"max_nb_peaks"`
	PercentSimilarity float64 `json:"percent_similarity" mapstructure:"percent_similarity"`
	PercentStd        float64 `json:"percent_std" mapstructure:"percent_std"`
}

// DefaultParameters returns the historical default thresholds.
func DefaultParameters() Parameters {
	return Parameters{
		PfxPeakMinValue:   10,
		CflPeakMinValue:   5,
		MaxNbPeaks:        2,
		PercentSimilarity: 0.9,
		PercentStd:        0.9,
	}
}

// Validate checks that every threshold is usable.
// MaxNbPeaks == 0 is valid and disables detection.
func (p Parameters) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"pfx_peak_min_value", p.PfxPeakMinValue},
		{"cfl_peak_min_value", p.CflPeakMinValue},
		{"percent_similarity", p.PercentSimilarity},
		{"percent_std", p.PercentStd},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%s is not finite: %w", f.name, ErrInvalidParameters)
		}
	}
	switch {
	case p.PfxPeakMinValue < 0:
		return fmt.Errorf("pfx_peak_min_value %g < 0: %w", p.PfxPeakMinValue, ErrInvalidParameters)
	case p.CflPeakMinValue < 0:
		return fmt.Errorf("cfl_peak_min_value %g < 0: %w", p.CflPeakMinValue, ErrInvalidParameters)
	case p.MaxNbPeaks < 0:
		return fmt.Errorf("max_nb_peaks %d < 0: %w", p.MaxNbPeaks, ErrInvalidParameters)
	case p.PercentSimilarity < 0 || p.PercentSimilarity > 1:
		return fmt.Errorf("percent_similarity %g not in [0,1]: %w", p.PercentSimilarity, ErrInvalidParameters)
	case p.PercentStd < 0:
		return fmt.Errorf("percent_std %g < 0: %w", p.PercentStd, ErrInvalidParameters)
	}
	return nil
}

func (p Parameters) String() string {
	return fmt.Sprintf("pfx_min=%g cfl_min=%g max_nb_peaks=%d similarity=%g std=%g",
		p.PfxPeakMinValue, p.CflPeakMinValue, p.MaxNbPeaks, p.PercentSimilarity, p.PercentStd)
}

// Selection is either a fixed parameter set or a request to fit one.
type Selection struct {
	auto   bool
	params Parameters
}

// Manual selects fixed parameters.
func Manual(p Parameters) Selection {
	return Selection{params: p}
}

// Auto asks the engine to fit parameters on the data before detecting.
func Auto() Selection {
	return Selection{auto: true}
}

// IsAuto reports whether parameters must be fitted.
func (s Selection) IsAuto() bool { return s.auto }

// Parameters returns the manual parameters. It is the zero value for Auto.
func (s Selection) Parameters() Parameters { return s.params }
