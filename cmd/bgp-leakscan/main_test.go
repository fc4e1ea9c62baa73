package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureDays = 60

// writeFixtures writes a prepared file pair: AS64500 leaks on day 30,
// AS64501 is flat.
func writeFixtures(t *testing.T) (pfxPath, cflPath, cfgPath string) {
	t.Helper()
	dir := t.TempDir()

	series := func(base, spike float64) []float64 {
		s := make([]float64, fixtureDays)
		for i := range s {
			s[i] = base
		}
		if spike > 0 {
			s[30] = spike
		}
		return s
	}

	writeLines := func(name string, lines ...interface{}) string {
		var buf bytes.Buffer
		for _, l := range lines {
			b, err := json.Marshal(l)
			require.NoError(t, err)
			buf.Write(b)
			buf.WriteByte('\n')
		}
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
		return path
	}

	pfxPath = writeLines("prefixes.json",
		map[string]string{"start_date": "2015-01-01"},
		map[string][]float64{"64500": series(100, 400)},
		map[string][]float64{"64501": series(50, 0)},
	)
	cflPath = writeLines("conflicts.json",
		map[string]string{"start_date": "2015-01-01"},
		map[string][]float64{"64500": series(10, 200)},
		map[string][]float64{"64501": series(5, 0)},
	)

	cfgPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  level: error\n"), 0644))
	return pfxPath, cflPath, cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDetectCommand_Pairs(t *testing.T) {
	pfx, cfl, cfg := writeFixtures(t)

	out, err := execute(t, "detect", pfx, cfl, "--config", cfg, "--format", "pairs")
	require.NoError(t, err)
	assert.Equal(t, "64500 30\n", out)
}

func TestDetectCommand_OutFileAndMetrics(t *testing.T) {
	pfx, cfl, cfg := writeFixtures(t)
	dir := t.TempDir()
	outPath := filepath.Join(dir, "report.json")
	metricsPath := filepath.Join(dir, "leakscan.prom")

	_, err := execute(t, "detect", pfx, cfl, "--config", cfg, "-o", outPath, "--metrics-file", metricsPath)
	require.NoError(t, err)

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var report map[string]struct {
		Leaks []int `json:"leaks"`
	}
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, []int{30}, report["64500"].Leaks)
	assert.NotContains(t, report, "64501")

	metrics, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "bgp_leakscan_detection_runs_total 1")
	assert.Contains(t, string(metrics), "bgp_leakscan_leak_days_detected_total 1")
}

func TestDetectCommand_ParameterFlags(t *testing.T) {
	pfx, cfl, cfg := writeFixtures(t)

	// A prefix threshold above the spike rejects every peak.
	out, err := execute(t, "detect", pfx, cfl, "--config", cfg, "--format", "pairs", "--pfx-min", "500")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDetectCommand_DateWindow(t *testing.T) {
	pfx, cfl, cfg := writeFixtures(t)

	out, err := execute(t, "detect", pfx, cfl, "--config", cfg, "--format", "pairs", "--from", "2015-01-20")
	require.NoError(t, err)
	assert.Equal(t, "64500 11\n", out)

	out, err = execute(t, "detect", pfx, cfl, "--config", cfg, "--format", "pairs", "--to", "2015-01-30")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = execute(t, "detect", pfx, cfl, "--config", cfg, "--from", "2015-02-10", "--to", "2015-02-01")
	assert.Error(t, err)
}

func TestDetectCommand_FitParams(t *testing.T) {
	pfx, cfl, cfg := writeFixtures(t)

	out, err := execute(t, "detect", pfx, cfl, "--config", cfg, "--format", "flat", "--fit-params")
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.Len(t, fields, 7)
	assert.Equal(t, "64500", fields[5])
	assert.Equal(t, "30", fields[6])
}

func TestDetectCommand_Errors(t *testing.T) {
	pfx, cfl, cfg := writeFixtures(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no input", []string{"detect", "--config", cfg}},
		{"both inputs", []string{"detect", pfx, cfl, "--jsonl", pfx, "--config", cfg}},
		{"unknown format", []string{"detect", pfx, cfl, "--config", cfg, "--format", "xml"}},
		{"bad strategy", []string{"detect", pfx, cfl, "--config", cfg, "--strategy", "random"}},
		{"bad start date", []string{"detect", pfx, cfl, "--config", cfg, "--start-date", "01/02/2015"}},
		{"missing file", []string{"detect", pfx, filepath.Join(t.TempDir(), "nope.json"), "--config", cfg}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestFitCommand(t *testing.T) {
	pfx, cfl, cfg := writeFixtures(t)

	out, err := execute(t, "fit", pfx, cfl, "--config", cfg)
	require.NoError(t, err)

	p, err := dataset.ParseParameters(out)
	require.NoError(t, err)
	assert.Positive(t, p.MaxNbPeaks)
}

func TestFitCommand_KeepsConfiguredThresholds(t *testing.T) {
	pfx, cfl, cfg := writeFixtures(t)

	out, err := execute(t, "fit", pfx, cfl, "--config", cfg, "--max-nb-peaks", "1", "--std", "2", "--format", "json")
	require.NoError(t, err)

	var p struct {
		MaxNbPeaks int     `json:"max_nb_peaks"`
		PercentStd float64 `json:"percent_std"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, 1, p.MaxNbPeaks)
	assert.Equal(t, 2.0, p.PercentStd)
}

func TestFitCommand_Candidates(t *testing.T) {
	pfx, cfl, cfg := writeFixtures(t)
	paramsPath := filepath.Join(t.TempDir(), "candidates.txt")
	require.NoError(t, os.WriteFile(paramsPath, []byte("# pfx cfl nb sim std\n10 5 1 0.9 0.5\n500 5 1 0.9 0.5\n"), 0644))

	out, err := execute(t, "fit", pfx, cfl, "--config", cfg, "--params-file", paramsPath, "--candidates")
	require.NoError(t, err)

	assert.Contains(t, strings.ToLower(out), "2 candidates")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, "10 5 1 0.9 0.5", lines[len(lines)-1])
}

func TestExplainCommand(t *testing.T) {
	pfx, cfl, cfg := writeFixtures(t)

	out, err := execute(t, "explain", pfx, cfl, "--config", cfg, "--asn", "64500", "--day", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "peak")
	assert.Contains(t, out, "day 30 is 2015-01-31")

	_, err = execute(t, "explain", pfx, cfl, "--config", cfg, "--asn", "65000", "--day", "30")
	assert.Error(t, err)

	_, err = execute(t, "explain", pfx, cfl, "--config", cfg, "--asn", "64500")
	assert.Error(t, err)
}

func TestConvertCommand(t *testing.T) {
	pfx, cfl, cfg := writeFixtures(t)
	docPath := filepath.Join(t.TempDir(), "documents.json")

	_, err := execute(t, "convert", pfx, cfl, "--config", cfg, "-o", docPath)
	require.NoError(t, err)

	loaded, err := dataset.LoadDocuments(docPath)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Data.Len())

	out, err := execute(t, "detect", "--jsonl", docPath, "--config", cfg, "--format", "pairs", "--start-date", "2015-01-01")
	require.NoError(t, err)
	assert.Equal(t, "64500 30\n", out)
}
