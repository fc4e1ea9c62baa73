// Package models defines the data structures shared by the leak detector,
// the parameter fitter and the output sinks.
package models

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrInvalidSeries is wrapped by every InvalidSeriesError.
	ErrInvalidSeries = errors.New("invalid series")
	// ErrDuplicateAS is returned when a dataset holds two series for one AS.
	ErrDuplicateAS = errors.New("duplicate AS in dataset")
)

// TimeSeries is the pair of daily series observed for one AS.
// Index i of Prefixes and Conflicts refers to the same day.
type TimeSeries struct {
	ASN       uint32
	Prefixes  []float64 // announced prefixes per day
	Conflicts []float64 // announcements in conflict per day
}

// InvalidSeriesError reports why an AS was excluded from a run.
type InvalidSeriesError struct {
	ASN    uint32
	Reason string
}

func (e *InvalidSeriesError) Error() string {
	return fmt.Sprintf("AS%d: %s", e.ASN, e.Reason)
}

func (e *InvalidSeriesError) Unwrap() error { return ErrInvalidSeries }

// Days returns the number of days covered by the series.
func (ts TimeSeries) Days() int {
	return len(ts.Prefixes)
}

// Validate checks lengths and values of both series.
func (ts TimeSeries) Validate() error {
	if len(ts.Prefixes) != len(ts.Conflicts) {
		return &InvalidSeriesError{
			ASN:    ts.ASN,
			Reason: fmt.Sprintf("length mismatch: %d prefix days, %d conflict days", len(ts.Prefixes), len(ts.Conflicts)),
		}
	}
	if err := checkValues(ts.ASN, "prefixes", ts.Prefixes); err != nil {
		return err
	}
	return checkValues(ts.ASN, "conflicts", ts.Conflicts)
}

func checkValues(asn uint32, name string, values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &InvalidSeriesError{ASN: asn, Reason: fmt.Sprintf("%s: non-finite value at day %d", name, i)}
		}
		if v < 0 {
			return &InvalidSeriesError{ASN: asn, Reason: fmt.Sprintf("%s: negative value %g at day %d", name, v, i)}
		}
	}
	return nil
}

// Dataset is an immutable arena of series sorted by AS number.
type Dataset struct {
	series []TimeSeries
	index  map[uint32]int

	groupOnce sync.Once
	groups    []int
}

// NewDataset builds a dataset from a list of series.
// The slices are referenced, not copied; callers must not modify them afterwards.
func NewDataset(series []TimeSeries) (*Dataset, error) {
	sorted := make([]TimeSeries, len(series))
	copy(sorted, series)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ASN < sorted[j].ASN })

	index := make(map[uint32]int, len(sorted))
	for i, ts := range sorted {
		if _, ok := index[ts.ASN]; ok {
			return nil, fmt.Errorf("AS%d: %w", ts.ASN, ErrDuplicateAS)
		}
		index[ts.ASN] = i
	}
	return &Dataset{series: sorted, index: index}, nil
}

// DatasetFromMaps pairs prefix and conflict series keyed by AS number.
// ASes present in only one map are returned in unpaired.
func DatasetFromMaps(prefixes, conflicts map[uint32][]float64) (ds *Dataset, unpaired []uint32) {
	series := make([]TimeSeries, 0, len(prefixes))
	for asn, pfx := range prefixes {
		cfl, ok := conflicts[asn]
		if !ok {
			unpaired = append(unpaired, asn)
			continue
		}
		series = append(series, TimeSeries{ASN: asn, Prefixes: pfx, Conflicts: cfl})
	}
	for asn := range conflicts {
		if _, ok := prefixes[asn]; !ok {
			unpaired = append(unpaired, asn)
		}
	}
	sort.Slice(unpaired, func(i, j int) bool { return unpaired[i] < unpaired[j] })

	// map keys are unique, NewDataset cannot fail here
	ds, _ = NewDataset(series)
	return ds, unpaired
}

// Len returns the number of ASes.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.series)
}

// At returns the i-th series in ASN order.
func (d *Dataset) At(i int) TimeSeries {
	return d.series[i]
}

// Lookup returns the series of an AS.
func (d *Dataset) Lookup(asn uint32) (TimeSeries, bool) {
	if d == nil {
		return TimeSeries{}, false
	}
	i, ok := d.index[asn]
	if !ok {
		return TimeSeries{}, false
	}
	return d.series[i], true
}

// Days returns the length of the longest series.
func (d *Dataset) Days() int {
	days := 0
	for i := 0; i < d.Len(); i++ {
		if n := d.series[i].Days(); n > days {
			days = n
		}
	}
	return days
}

// Representatives maps every position to the first position holding the
// same prefix and conflict values. ASes sharing a series are evaluated once.
func (d *Dataset) Representatives() []int {
	d.groupOnce.Do(func() {
		d.groups = make([]int, len(d.series))
		byKey := make(map[uint64][]int)
		for i, ts := range d.series {
			key := SeriesKey(ts)
			d.groups[i] = i
			for _, j := range byKey[key] {
				if SameValues(d.series[j], ts) {
					d.groups[i] = j
					break
				}
			}
			if d.groups[i] == i {
				byKey[key] = append(byKey[key], i)
			}
		}
	})
	return d.groups
}

// Fingerprint hashes every AS number and value of the dataset.
// Two datasets with the same content share a fingerprint.
func (d *Dataset) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	for i := 0; i < d.Len(); i++ {
		ts := d.series[i]
		binary.LittleEndian.PutUint32(buf[:4], ts.ASN)
		h.Write(buf[:4])
		writeValues(h, ts.Prefixes)
		writeValues(h, ts.Conflicts)
	}
	return h.Sum64()
}

// SeriesKey hashes the values of one AS, ignoring its number.
// It groups ASes that announced exactly the same series.
func SeriesKey(ts TimeSeries) uint64 {
	h := xxhash.New()
	writeValues(h, ts.Prefixes)
	writeValues(h, ts.Conflicts)
	return h.Sum64()
}

// SameValues reports whether two series hold identical values.
func SameValues(a, b TimeSeries) bool {
	return equalFloats(a.Prefixes, b.Prefixes) && equalFloats(a.Conflicts, b.Conflicts)
}

func writeValues(h *xxhash.Digest, values []float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(values)))
	h.Write(buf[:])
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			return false
		}
	}
	return true
}
