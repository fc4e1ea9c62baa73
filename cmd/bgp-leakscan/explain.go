package main

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/detector"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func explainCmd() *cobra.Command {
	var asn uint32
	var day int

	cmd := &cobra.Command{
		Use:   "explain [<prefixes> <conflicts>] --asn <asn> --day <day>",
		Short: "Explain why a day is or is not reported for an AS",
		Long: `Explain runs peak detection on both series of one AS and reports, for a
given day, the first check that rejected it: local maximum, minimum
value, significance gate or the max_nb_peaks cut. It then tells whether
the day is reported as a leak.

Example:
  bgp-leakscan explain prefixes.json conflicts.json --asn 64500 --day 42
`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("asn") || !cmd.Flags().Changed("day") {
				return errors.New("--asn and --day are required")
			}
			return runExplain(cmd, args, asn, day, cmd.OutOrStdout())
		},
	}

	addDetectionFlags(cmd)
	cmd.Flags().Uint32Var(&asn, "asn", 0, "AS number to explain")
	cmd.Flags().IntVar(&day, "day", 0, "day index to explain")

	return cmd
}

func runExplain(cmd *cobra.Command, args []string, asn uint32, day int, w io.Writer) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	rt := newRuntime(ctx, cfg)
	defer rt.Close()

	loaded, err := loadInput(cmd, args)
	if err != nil {
		return err
	}
	ts, ok := loaded.Data.Lookup(asn)
	if !ok {
		return fmt.Errorf("AS%d is not in the dataset", asn)
	}
	if err := ts.Validate(); err != nil {
		return err
	}

	params := cfg.Detection.Parameters()
	if cfg.Detection.FitParams {
		engine, err := rt.newEngine()
		if err != nil {
			return err
		}
		report, err := engine.Run(ctx, loaded.Data, models.Auto())
		if err != nil {
			return err
		}
		params = report.Params
	}
	log.Debugf("Explaining AS%d day %d with %s", asn, day, params)

	rows, matched := explainDay(ts, day, params, rt.matcher())
	writeRejections(w, asn, rows, matched)
	if date := loaded.Date(day); date != "" {
		if _, err := fmt.Fprintf(w, "day %d is %s\n", day, date); err != nil {
			return err
		}
	}
	return nil
}

// explainDay explains day in both series and tells whether it is a leak.
func explainDay(ts models.TimeSeries, day int, p models.Parameters, m detector.Matcher) (map[string]detector.Rejection, bool) {
	rows := map[string]detector.Rejection{
		"prefixes":  detector.Explain(ts.Prefixes, day, p.PfxPeakMinValue, p.MaxNbPeaks, p.PercentStd),
		"conflicts": detector.Explain(ts.Conflicts, day, p.CflPeakMinValue, p.MaxNbPeaks, p.PercentStd),
	}
	pfx := detector.FindPeaks(ts.Prefixes, p.PfxPeakMinValue, p.MaxNbPeaks, p.PercentStd)
	cfl := detector.FindPeaks(ts.Conflicts, p.CflPeakMinValue, p.MaxNbPeaks, p.PercentStd)
	leaks := m.Match(pfx, cfl, p.PercentSimilarity)
	return rows, slices.Contains(leaks, day)
}
