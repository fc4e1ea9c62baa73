package detector

import (
	"sort"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
)

// Matcher pairs prefix peaks with conflict peaks.
//
// With DayTolerance 0 only peaks on the same day pair up. With a positive
// tolerance, peaks left unpaired after exact matching may pair with a peak
// at most DayTolerance days away, provided their relative heights are at
// least percentSimilarity close; the prefix peak's day is then reported.
type Matcher struct {
	DayTolerance int
}

// Match returns the days on which both series peak (strict same-day matching).
func Match(pfx, cfl models.PeakSet, percentSimilarity float64) []int {
	return Matcher{}.Match(pfx, cfl, percentSimilarity)
}

// Match returns the sorted days of simultaneous pairs. Each peak is used at most once.
func (m Matcher) Match(pfx, cfl models.PeakSet, percentSimilarity float64) []int {
	if len(pfx) == 0 || len(cfl) == 0 {
		return []int{}
	}

	usedPfx := make([]bool, len(pfx))
	usedCfl := make([]bool, len(cfl))

	cflByDay := make(map[int]int, len(cfl))
	for j, p := range cfl {
		cflByDay[p.Day] = j
	}

	days := make([]int, 0, len(pfx))
	for i, p := range pfx {
		j, ok := cflByDay[p.Day]
		if !ok || usedCfl[j] {
			continue
		}
		usedPfx[i] = true
		usedCfl[j] = true
		days = append(days, p.Day)
	}

	if m.DayTolerance > 0 {
		days = append(days, m.matchShifted(pfx, cfl, usedPfx, usedCfl, percentSimilarity)...)
	}

	sort.Ints(days)
	return days
}

type shiftedPair struct {
	offset int
	pfx    int
	cfl    int
}

func (m Matcher) matchShifted(pfx, cfl models.PeakSet, usedPfx, usedCfl []bool, percentSimilarity float64) []int {
	var pairs []shiftedPair
	for i, p := range pfx {
		if usedPfx[i] {
			continue
		}
		for j, c := range cfl {
			if usedCfl[j] {
				continue
			}
			offset := abs(p.Day - c.Day)
			if offset == 0 || offset > m.DayTolerance {
				continue
			}
			if similarity(p.Height, c.Height) < percentSimilarity {
				continue
			}
			pairs = append(pairs, shiftedPair{offset: offset, pfx: i, cfl: j})
		}
	}

	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].offset != pairs[b].offset {
			return pairs[a].offset < pairs[b].offset
		}
		if pairs[a].pfx != pairs[b].pfx {
			return pairs[a].pfx < pairs[b].pfx
		}
		return cfl[pairs[a].cfl].Day < cfl[pairs[b].cfl].Day
	})

	var days []int
	for _, pair := range pairs {
		if usedPfx[pair.pfx] || usedCfl[pair.cfl] {
			continue
		}
		usedPfx[pair.pfx] = true
		usedCfl[pair.cfl] = true
		days = append(days, pfx[pair.pfx].Day)
	}
	return days
}

// similarity is the ratio of the smaller height to the larger one.
func similarity(a, b float64) float64 {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi == 0 {
		return 1
	}
	return lo / hi
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
