package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/dataset"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/detector"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/fitter"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Output formats
const (
	formatJSON  = "json"
	formatPairs = "pairs"
	formatFlat  = "flat"
	formatTable = "table"
)

func validFormat(format string) bool {
	switch format {
	case formatJSON, formatPairs, formatFlat, formatTable:
		return true
	}
	return false
}

func writeReport(w io.Writer, format string, report *models.LeakReport, loaded *dataset.Loaded) error {
	switch format {
	case formatJSON:
		return json.NewEncoder(w).Encode(report)
	case formatPairs:
		return writePairs(w, report)
	case formatFlat:
		return writeFlat(w, report)
	case formatTable:
		return writeReportTable(w, report, loaded)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// writePairs prints one "asn day" line per detection.
func writePairs(w io.Writer, report *models.LeakReport) error {
	for _, asn := range report.ASNs() {
		for _, day := range report.Entries[asn].Leaks {
			if _, err := fmt.Fprintf(w, "%d %d\n", asn, day); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeFlat prints one line per AS prefixed with the parameters, so the
// output of several runs can be concatenated and compared.
func writeFlat(w io.Writer, report *models.LeakReport) error {
	p := report.Params
	prefix := fmt.Sprintf("%g %g %g %d %g", p.PfxPeakMinValue, p.CflPeakMinValue, p.PercentSimilarity, p.MaxNbPeaks, p.PercentStd)
	for _, asn := range report.ASNs() {
		if _, err := fmt.Fprintf(w, "%s %d %s\n", prefix, asn, joinDays(report.Entries[asn].Leaks)); err != nil {
			return err
		}
	}
	return nil
}

func joinDays(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	return tbl
}

func writeReportTable(w io.Writer, report *models.LeakReport, loaded *dataset.Loaded) error {
	tbl := newTable(w)
	tbl.SetTitle(report.Params.String())
	tbl.AppendHeader(table.Row{"ASN", "Tier-1", "Day", "Date", "Prefixes", "Conflicts", "Severity"})

	for _, asn := range report.ASNs() {
		entry := report.Entries[asn]
		severity := detector.LeakSeverity(asn, len(entry.Leaks))
		for _, day := range entry.Leaks {
			date := ""
			if loaded != nil {
				date = loaded.Date(day)
			}
			tbl.AppendRow(table.Row{
				asn,
				detector.Tier1ASNs[asn],
				day,
				date,
				humanize.Commaf(entry.Prefixes[day]),
				humanize.Commaf(entry.Conflicts[day]),
				severity,
			})
		}
	}

	tbl.AppendFooter(table.Row{
		fmt.Sprintf("%s ASes", humanize.Comma(int64(len(report.Entries)))),
		"",
		fmt.Sprintf("%s leaks", humanize.Comma(int64(report.Detections()))),
	})
	tbl.Render()
	return nil
}

func writeParameters(w io.Writer, format string, p models.Parameters) error {
	if format == formatJSON {
		return json.NewEncoder(w).Encode(p)
	}
	_, err := fmt.Fprintln(w, dataset.FormatParameters(p))
	return err
}

func writeCandidates(w io.Writer, candidates []fitter.Candidate) {
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"pfx", "cfl", "max_nb", "similarity", "std", "Detections", "ASes", "Max/AS", "Degenerate"})
	for _, c := range candidates {
		p := c.Params
		degenerate := ""
		if c.Degenerate {
			degenerate = "yes"
		}
		tbl.AppendRow(table.Row{
			p.PfxPeakMinValue, p.CflPeakMinValue, p.MaxNbPeaks, p.PercentSimilarity, p.PercentStd,
			c.Detections, c.LeakingASes, c.MaxLeaksPerAS, degenerate,
		})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("%d candidates", len(candidates))})
	tbl.Render()
}

func writeSweeps(w io.Writer, sweeps []fitter.SweepResult) {
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Parameter", "Points", "R²", "First", "Second", "Chosen"})
	for _, s := range sweeps {
		tbl.AppendRow(table.Row{
			s.Name, len(s.Points), fmt.Sprintf("%.3f", s.Score), s.First, s.Second, s.Chosen,
		})
	}
	tbl.Render()
}

func writeRejections(w io.Writer, asn uint32, rows map[string]detector.Rejection, matched bool) {
	tbl := newTable(w)
	tbl.SetTitle(fmt.Sprintf("AS%d", asn))
	tbl.AppendHeader(table.Row{"Series", "Day", "Value", "Mean", "Std", "Gate", "Rank", "Outcome"})
	for _, name := range []string{"prefixes", "conflicts"} {
		r := rows[name]
		rank := ""
		if r.Rank > 0 {
			rank = strconv.Itoa(r.Rank)
		}
		tbl.AppendRow(table.Row{
			name, r.Day, r.Value,
			fmt.Sprintf("%.3f", r.Mean), fmt.Sprintf("%.3f", r.Std), fmt.Sprintf("%.3f", r.Gate),
			rank, r.Cause,
		})
	}
	leak := "no"
	if matched {
		leak = "yes"
	}
	tbl.AppendFooter(table.Row{"leak", leak})
	tbl.Render()
}
