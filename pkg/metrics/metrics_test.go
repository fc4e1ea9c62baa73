package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_ObserveRun(t *testing.T) {
	r := NewRecorder()
	r.ObserveRun(20*time.Millisecond, 100, 2, 7)
	r.ObserveRun(10*time.Millisecond, 50, 0, 1)

	expected := `
# HELP bgp_leakscan_leak_days_detected_total Number of (AS, day) leak detections.
# TYPE bgp_leakscan_leak_days_detected_total counter
bgp_leakscan_leak_days_detected_total 8
# HELP bgp_leakscan_ases_processed_total Number of AS series evaluated.
# TYPE bgp_leakscan_ases_processed_total counter
bgp_leakscan_ases_processed_total 150
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected),
		"bgp_leakscan_leak_days_detected_total", "bgp_leakscan_ases_processed_total"))
}

func TestRecorder_ObserveFit(t *testing.T) {
	r := NewRecorder()
	r.ObserveFit("grid", 400, time.Second)
	r.ObserveFit("elbow", 120, time.Second)
	r.ObserveFit("grid", 400, time.Second)

	expected := `
# HELP bgp_leakscan_fit_candidates_total Number of parameter sets evaluated while fitting.
# TYPE bgp_leakscan_fit_candidates_total counter
bgp_leakscan_fit_candidates_total{strategy="elbow"} 120
bgp_leakscan_fit_candidates_total{strategy="grid"} 800
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected),
		"bgp_leakscan_fit_candidates_total"))
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveRun(time.Second, 1, 0, 0)
		r.ObserveFit("grid", 1, time.Second)
		r.FitCacheHit()
	})
	assert.Nil(t, r.Registry())
	assert.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "unused.prom")))
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.FitCacheHit()

	path := filepath.Join(t.TempDir(), "leakscan.prom")
	require.NoError(t, r.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "bgp_leakscan_fit_cache_hits_total 1")
}
