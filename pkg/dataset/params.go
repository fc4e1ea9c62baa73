package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
)

// paramFields is the number of fields on a parameter line:
// pfx_peak_min_value cfl_peak_min_value max_nb_peaks percent_similarity percent_std
const paramFields = 5

// LoadParameters reads a parameter file.
func LoadParameters(path string) ([]models.Parameters, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadParameters(f, path)
}

// ReadParameters parses one parameter set per line. Blank lines and lines
// starting with # are skipped. name is used in error messages.
func ReadParameters(r io.Reader, name string) ([]models.Parameters, error) {
	var out []models.Parameters
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := ParseParameters(line)
		if err != nil {
			return nil, &LineError{Path: name, Line: lineNum, Err: err}
		}
		out = append(out, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", name, err)
	}
	return out, nil
}

// ParseParameters parses "pfx cfl max_nb_peaks similarity std".
func ParseParameters(line string) (models.Parameters, error) {
	fields := strings.Fields(line)
	if len(fields) != paramFields {
		return models.Parameters{}, fmt.Errorf("expected %d fields, got %d: %w", paramFields, len(fields), ErrFormat)
	}

	var p models.Parameters
	var err error
	if p.PfxPeakMinValue, err = parseFloat("pfx_peak_min_value", fields[0]); err != nil {
		return models.Parameters{}, err
	}
	if p.CflPeakMinValue, err = parseFloat("cfl_peak_min_value", fields[1]); err != nil {
		return models.Parameters{}, err
	}
	nb, err := strconv.Atoi(fields[2])
	if err != nil {
		return models.Parameters{}, fmt.Errorf("max_nb_peaks %q: %w", fields[2], ErrFormat)
	}
	p.MaxNbPeaks = nb
	if p.PercentSimilarity, err = parseFloat("percent_similarity", fields[3]); err != nil {
		return models.Parameters{}, err
	}
	if p.PercentStd, err = parseFloat("percent_std", fields[4]); err != nil {
		return models.Parameters{}, err
	}

	if err := p.Validate(); err != nil {
		return models.Parameters{}, err
	}
	return p, nil
}

// FormatParameters is the inverse of ParseParameters.
func FormatParameters(p models.Parameters) string {
	return fmt.Sprintf("%g %g %d %g %g",
		p.PfxPeakMinValue, p.CflPeakMinValue, p.MaxNbPeaks, p.PercentSimilarity, p.PercentStd)
}

func parseFloat(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", name, s, ErrFormat)
	}
	return v, nil
}
