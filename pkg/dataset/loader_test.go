package dataset

import (
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeGzip(t *testing.T, name, content string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return writeFile(t, name, buf.String())
}

func TestLoadPrepared(t *testing.T) {
	pfx := writeFile(t, "pfx.json", `{"start_date": "2015-01-01"}
{"64500": [1, 1, 1, 20, 1, 1]}
{"64501": [3, 3, 3, 3, 3, 3]}

{"64502": [1, 2, 3, 4, 5, 6]}
`)
	cfl := writeGzip(t, "cfl.json.gz", `{"start_date": "2015-01-01"}
{"64500": [2, 2, 2, 30, 2, 2]}
{"64501": [3, 3, 3, 3, 3, 3]}
{"64503": [1, 1, 1, 1, 1, 1]}
`)

	loaded, err := LoadPrepared(pfx, cfl)
	require.NoError(t, err)

	assert.Equal(t, 2, loaded.Data.Len())
	assert.Equal(t, []uint32{64502, 64503}, loaded.Unpaired)
	ts, ok := loaded.Data.Lookup(64500)
	require.True(t, ok)
	assert.Equal(t, []float64{2, 2, 2, 30, 2, 2}, ts.Conflicts)

	require.True(t, loaded.HasStartDate())
	assert.Equal(t, "2015-01-04", loaded.Date(3))
}

func TestLoadPrepared_NoStartDate(t *testing.T) {
	pfx := writeFile(t, "pfx.json", `{"1": [1, 2, 1], "2": [4, 4, 4]}`)
	cfl := writeFile(t, "cfl.json", `{"1": [1, 2, 1]}
{"2": [4, 4, 4]}`)

	loaded, err := LoadPrepared(pfx, cfl)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Data.Len())
	assert.False(t, loaded.HasStartDate())
	assert.Equal(t, "", loaded.Date(1))
}

func TestLoadPrepared_StartMismatch(t *testing.T) {
	pfx := writeFile(t, "pfx.json", `{"start_date": "2015-01-01"}`)
	cfl := writeFile(t, "cfl.json", `{"start_date": "2015-02-01"}`)

	_, err := LoadPrepared(pfx, cfl)
	assert.ErrorIs(t, err, ErrStartMismatch)
}

func TestReadSeriesFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		line    int
	}{
		{"not json", "{\"1\": [1]}\nnope\n", 2},
		{"bad asn", `{"x1": [1, 2]}`, 1},
		{"bad values", `{"1": ["a"]}`, 1},
		{"duplicate", "{\"1\": [1]}\n\n{\"1\": [2]}\n", 3},
		{"bad date", `{"start_date": "01/01/2015"}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "pfx.json", tt.content)
			_, _, err := ReadSeriesFile(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFormat)

			var lineErr *LineError
			require.True(t, errors.As(err, &lineErr))
			assert.Equal(t, tt.line, lineErr.Line)
		})
	}
}

func TestReadSeriesFile_ASPrefix(t *testing.T) {
	path := writeFile(t, "pfx.json", `{"AS3356": [1, 2]}`)
	series, _, err := ReadSeriesFile(path)
	require.NoError(t, err)
	assert.Contains(t, series, uint32(3356))
}

func TestReadSeriesFile_Missing(t *testing.T) {
	_, _, err := ReadSeriesFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDocuments(t *testing.T) {
	path := writeFile(t, "docs.jsonl", `{"ases": [10, 20], "prefixes": [1, 1, 1, 20, 1, 1], "conflicts": [2, 2, 2, 30, 2, 2]}
{"ases": [30], "prefixes": [5, 5], "conflicts": [5, 5]}
`)

	loaded, err := LoadDocuments(path)
	require.NoError(t, err)
	require.Equal(t, 3, loaded.Data.Len())

	a, _ := loaded.Data.Lookup(10)
	b, _ := loaded.Data.Lookup(20)
	assert.True(t, models.SameValues(a, b))
	assert.Equal(t, []int{0, 0, 2}, loaded.Data.Representatives())
}

func TestLoadDocuments_Errors(t *testing.T) {
	t.Run("duplicate AS", func(t *testing.T) {
		path := writeFile(t, "docs.jsonl", `{"ases": [10], "prefixes": [1], "conflicts": [1]}
{"ases": [10], "prefixes": [2], "conflicts": [2]}`)
		_, err := LoadDocuments(path)
		assert.ErrorIs(t, err, ErrFormat)
		assert.Contains(t, err.Error(), "line 1")
	})

	t.Run("no AS", func(t *testing.T) {
		path := writeFile(t, "docs.jsonl", `{"ases": [], "prefixes": [1], "conflicts": [1]}`)
		_, err := LoadDocuments(path)
		assert.ErrorIs(t, err, ErrFormat)
	})
}

func TestWriteDocuments_RoundTrip(t *testing.T) {
	ds, err := models.NewDataset([]models.TimeSeries{
		{ASN: 1, Prefixes: []float64{1, 5, 1}, Conflicts: []float64{1, 5, 1}},
		{ASN: 2, Prefixes: []float64{2, 2, 2}, Conflicts: []float64{0, 0, 0}},
		{ASN: 3, Prefixes: []float64{1, 5, 1}, Conflicts: []float64{1, 5, 1}},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteDocuments(&buf, ds))
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))

	loaded, err := LoadDocuments(writeFile(t, "docs.jsonl", buf.String()))
	require.NoError(t, err)
	assert.Equal(t, ds.Fingerprint(), loaded.Data.Fingerprint())
}

func TestLoaded_Window(t *testing.T) {
	ds, err := models.NewDataset([]models.TimeSeries{
		{ASN: 64500, Prefixes: []float64{0, 1, 2, 3, 4, 5}, Conflicts: []float64{10, 11, 12, 13, 14, 15}},
		{ASN: 64501, Prefixes: []float64{0, 1, 2}, Conflicts: []float64{5, 6, 7}},
	})
	require.NoError(t, err)
	day := func(s string) time.Time {
		d, err := time.Parse(DateFormat, s)
		require.NoError(t, err)
		return d
	}
	loaded := &Loaded{Data: ds, StartDate: day("2015-01-01")}

	tests := []struct {
		name      string
		first     string
		last      string
		start     string
		prefixes  []float64
		conflicts []float64
		short     []float64
	}{
		{"both bounds", "2015-01-02", "2015-01-04", "2015-01-02", []float64{1, 2, 3}, []float64{11, 12, 13}, []float64{1, 2}},
		{"open end", "2015-01-05", "", "2015-01-05", []float64{4, 5}, []float64{14, 15}, []float64{}},
		{"open start", "", "2015-01-02", "2015-01-01", []float64{0, 1}, []float64{10, 11}, []float64{0, 1}},
		{"before data", "2014-12-01", "2015-01-01", "2015-01-01", []float64{0}, []float64{10}, []float64{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var first, last time.Time
			if tt.first != "" {
				first = day(tt.first)
			}
			if tt.last != "" {
				last = day(tt.last)
			}
			got, err := loaded.Window(first, last)
			require.NoError(t, err)
			assert.Equal(t, tt.start, got.Date(0))

			ts, ok := got.Data.Lookup(64500)
			require.True(t, ok)
			assert.Equal(t, tt.prefixes, ts.Prefixes)
			assert.Equal(t, tt.conflicts, ts.Conflicts)

			ts, ok = got.Data.Lookup(64501)
			require.True(t, ok)
			assert.Equal(t, tt.short, ts.Prefixes)
		})
	}

	same, err := loaded.Window(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Same(t, loaded, same)
}

func TestLoaded_WindowErrors(t *testing.T) {
	ds, err := models.NewDataset([]models.TimeSeries{{ASN: 1, Prefixes: []float64{1, 2}, Conflicts: []float64{1, 2}}})
	require.NoError(t, err)
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err = (&Loaded{Data: ds}).Window(start, time.Time{})
	assert.ErrorIs(t, err, ErrWindow)

	loaded := &Loaded{Data: ds, StartDate: start}
	_, err = loaded.Window(start.AddDate(0, 0, 5), start.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, ErrWindow)
	_, err = loaded.Window(time.Time{}, start.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, ErrWindow)
}
