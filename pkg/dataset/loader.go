// Package dataset reads prefix and conflict series from prepared files.
//
// Two layouts are supported. Prepared files hold one JSON object per line,
// {"<asn>": [v0, v1, ...]}, with an optional {"start_date": "YYYY-MM-DD"}
// line; prefixes and conflicts live in two separate files. Document files
// hold one {"ases": [...], "prefixes": [...], "conflicts": [...]} object per
// line, shared by every listed AS. Gzip-compressed files are detected.
package dataset

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	log "github.com/sirupsen/logrus"
)

// DateFormat is the layout of start dates.
const DateFormat = "2006-01-02"

const startDateKey = "start_date"

// maxLineSize bounds one JSON line: a decade of daily values fits easily.
const maxLineSize = 64 * 1024 * 1024

var (
	// ErrFormat is wrapped by every parse error.
	ErrFormat = errors.New("invalid input format")
	// ErrStartMismatch is returned when prefix and conflict files disagree on their first day.
	ErrStartMismatch = errors.New("prefix and conflict files have different start dates")
	// ErrWindow is returned when a date window cannot be applied.
	ErrWindow = errors.New("invalid date window")
)

// LineError locates a parse error.
type LineError struct {
	Path string
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

func lineError(path string, line int, format string, args ...interface{}) error {
	return &LineError{Path: path, Line: line, Err: fmt.Errorf(format+": %w", append(args, ErrFormat)...)}
}

// Loaded is a dataset with the metadata read alongside it.
type Loaded struct {
	Data      *models.Dataset
	StartDate time.Time // zero when the files carry no start date
	Unpaired  []uint32  // ASes found in only one of the prepared files
}

// HasStartDate reports whether day indexes can be mapped to dates.
func (l *Loaded) HasStartDate() bool {
	return !l.StartDate.IsZero()
}

// Date returns the calendar day of a day index, or "" without a start date.
func (l *Loaded) Date(day int) string {
	if !l.HasStartDate() {
		return ""
	}
	return l.StartDate.AddDate(0, 0, day).Format(DateFormat)
}

// Window keeps the days from first to last, both inclusive. A zero bound
// leaves that side open. Day indexes of the result count from the first
// kept day.
func (l *Loaded) Window(first, last time.Time) (*Loaded, error) {
	if first.IsZero() && last.IsZero() {
		return l, nil
	}
	if !l.HasStartDate() {
		return nil, fmt.Errorf("no start date to place the window on: %w", ErrWindow)
	}

	from := 0
	if !first.IsZero() && first.After(l.StartDate) {
		from = daysBetween(l.StartDate, first)
	}
	to := -1
	if !last.IsZero() {
		if last.Before(l.StartDate) || (!first.IsZero() && last.Before(first)) {
			return nil, fmt.Errorf("window ends on %s: %w", last.Format(DateFormat), ErrWindow)
		}
		to = daysBetween(l.StartDate, last)
	}

	series := make([]models.TimeSeries, 0, l.Data.Len())
	for i := 0; i < l.Data.Len(); i++ {
		ts := l.Data.At(i)
		ts.Prefixes = clip(ts.Prefixes, from, to)
		ts.Conflicts = clip(ts.Conflicts, from, to)
		series = append(series, ts)
	}
	ds, err := models.NewDataset(series)
	if err != nil {
		return nil, err
	}
	return &Loaded{Data: ds, StartDate: l.StartDate.AddDate(0, 0, from), Unpaired: l.Unpaired}, nil
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// clip returns v[from:to+1], bounded by len(v). to < 0 keeps the tail.
func clip(v []float64, from, to int) []float64 {
	end := len(v)
	if to >= 0 && to+1 < end {
		end = to + 1
	}
	if from >= end {
		return []float64{}
	}
	return v[from:end]
}

// LoadPrepared pairs a prefix file with a conflict file.
func LoadPrepared(pfxPath, cflPath string) (*Loaded, error) {
	pfx, pfxStart, err := ReadSeriesFile(pfxPath)
	if err != nil {
		return nil, err
	}
	cfl, cflStart, err := ReadSeriesFile(cflPath)
	if err != nil {
		return nil, err
	}
	if !pfxStart.Equal(cflStart) {
		return nil, fmt.Errorf("%s starts %s, %s starts %s: %w",
			pfxPath, formatDate(pfxStart), cflPath, formatDate(cflStart), ErrStartMismatch)
	}

	ds, unpaired := models.DatasetFromMaps(pfx, cfl)
	if len(unpaired) > 0 {
		log.WithFields(log.Fields{
			"unpaired": len(unpaired),
			"first":    unpaired[0],
		}).Warn("Skipping ASes present in only one input file")
	}
	log.Infof("Loaded %s ASes over %d days", humanize.Comma(int64(ds.Len())), ds.Days())

	return &Loaded{Data: ds, StartDate: pfxStart, Unpaired: unpaired}, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(DateFormat)
}

// ReadSeriesFile reads a prepared file into per-AS series.
func ReadSeriesFile(path string) (map[uint32][]float64, time.Time, error) {
	series := make(map[uint32][]float64)
	var start time.Time

	err := eachLine(path, func(lineNum int, line []byte) error {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(line, &doc); err != nil {
			return lineError(path, lineNum, "%v", err)
		}
		for key, raw := range doc {
			if key == startDateKey {
				var s string
				if err := json.Unmarshal(raw, &s); err != nil {
					return lineError(path, lineNum, "start_date: %v", err)
				}
				t, err := time.Parse(DateFormat, s)
				if err != nil {
					return lineError(path, lineNum, "start_date %q", s)
				}
				start = t
				continue
			}

			asn, err := parseASN(key)
			if err != nil {
				return lineError(path, lineNum, "%v", err)
			}
			if _, dup := series[asn]; dup {
				return lineError(path, lineNum, "AS%d listed twice", asn)
			}
			var values []float64
			if err := json.Unmarshal(raw, &values); err != nil {
				return lineError(path, lineNum, "AS%d: %v", asn, err)
			}
			series[asn] = values
		}
		return nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return series, start, nil
}

// Document is one line of a document file.
type Document struct {
	ASes      []uint32  `json:"ases"`
	Prefixes  []float64 `json:"prefixes"`
	Conflicts []float64 `json:"conflicts"`
}

// LoadDocuments reads a document file; each document expands to one series per AS.
func LoadDocuments(path string) (*Loaded, error) {
	var series []models.TimeSeries
	seen := make(map[uint32]int)

	err := eachLine(path, func(lineNum int, line []byte) error {
		var doc Document
		if err := json.Unmarshal(line, &doc); err != nil {
			return lineError(path, lineNum, "%v", err)
		}
		if len(doc.ASes) == 0 {
			return lineError(path, lineNum, "document lists no AS")
		}
		for _, asn := range doc.ASes {
			if first, dup := seen[asn]; dup {
				return lineError(path, lineNum, "AS%d already listed on line %d", asn, first)
			}
			seen[asn] = lineNum
			series = append(series, models.TimeSeries{ASN: asn, Prefixes: doc.Prefixes, Conflicts: doc.Conflicts})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ds, err := models.NewDataset(series)
	if err != nil {
		return nil, err
	}
	log.Infof("Loaded %s ASes over %d days", humanize.Comma(int64(ds.Len())), ds.Days())
	return &Loaded{Data: ds}, nil
}

// WriteDocuments writes data as a document file, one line per distinct series.
func WriteDocuments(w io.Writer, data *models.Dataset) error {
	reps := data.Representatives()
	docs := make(map[int]*Document)
	var order []int
	for i := 0; i < data.Len(); i++ {
		ts := data.At(i)
		doc, ok := docs[reps[i]]
		if !ok {
			doc = &Document{Prefixes: ts.Prefixes, Conflicts: ts.Conflicts}
			docs[reps[i]] = doc
			order = append(order, reps[i])
		}
		doc.ASes = append(doc.ASes, ts.ASN)
	}

	enc := json.NewEncoder(w)
	for _, i := range order {
		if err := enc.Encode(docs[i]); err != nil {
			return fmt.Errorf("write document: %w", err)
		}
	}
	return nil
}

func parseASN(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.ToUpper(s), "AS")
	asn, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid ASN %q", s)
	}
	return uint32(asn), nil
}

// eachLine calls fn for every non-blank line of a possibly gzipped file.
func eachLine(path string, fn func(lineNum int, line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r, err := decompress(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNum, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}

func decompress(f *os.File) (io.Reader, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return br, nil
}
