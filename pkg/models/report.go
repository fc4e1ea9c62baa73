package models

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Peak is a statistically significant local maximum of a series.
type Peak struct {
	Day    int     `json:"day"`
	Value  float64 `json:"value"`
	Height float64 `json:"height"` // Value relative to the series maximum, in [0,1]
}

// PeakSet is ordered by descending Value, ties by ascending Day.
type PeakSet []Peak

// Days returns the peak days in ascending order.
func (ps PeakSet) Days() []int {
	days := make([]int, len(ps))
	for i, p := range ps {
		days[i] = p.Day
	}
	sort.Ints(days)
	return days
}

// LeakEntry is the per-AS detection result.
type LeakEntry struct {
	Leaks     []int     `json:"leaks"`
	Prefixes  []float64 `json:"pref_data"`
	Conflicts []float64 `json:"conf_data"`
}

// LeakReport is the result of one detection run.
// Entries only holds ASes with at least one leak day.
type LeakReport struct {
	Params  Parameters
	Entries map[uint32]LeakEntry
	Invalid []*InvalidSeriesError
}

// NewLeakReport returns an empty report for the given parameters.
func NewLeakReport(p Parameters) *LeakReport {
	return &LeakReport{Params: p, Entries: make(map[uint32]LeakEntry)}
}

// ASNs returns the ASes with leaks, sorted.
func (r *LeakReport) ASNs() []uint32 {
	asns := make([]uint32, 0, len(r.Entries))
	for asn := range r.Entries {
		asns = append(asns, asn)
	}
	sort.Slice(asns, func(i, j int) bool { return asns[i] < asns[j] })
	return asns
}

// Detections counts distinct (AS, day) leak detections.
func (r *LeakReport) Detections() int {
	n := 0
	for _, e := range r.Entries {
		n += len(e.Leaks)
	}
	return n
}

// MaxLeaksPerAS returns the largest number of leak days reported for one AS.
func (r *LeakReport) MaxLeaksPerAS() int {
	maxLeaks := 0
	for _, e := range r.Entries {
		if len(e.Leaks) > maxLeaks {
			maxLeaks = len(e.Leaks)
		}
	}
	return maxLeaks
}

// MarshalJSON encodes the report as {"<asn>": {"leaks", "pref_data", "conf_data"}}.
func (r *LeakReport) MarshalJSON() ([]byte, error) {
	out := make(map[string]LeakEntry, len(r.Entries))
	for asn, e := range r.Entries {
		out[strconv.FormatUint(uint64(asn), 10)] = e
	}
	return json.Marshal(out)
}
