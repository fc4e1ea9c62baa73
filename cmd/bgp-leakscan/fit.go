package main

import (
	"io"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/fitter"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	"github.com/spf13/cobra"
)

func fitCmd() *cobra.Command {
	var format string
	var showCandidates bool

	cmd := &cobra.Command{
		Use:   "fit [<prefixes> <conflicts>]",
		Short: "Fit detection parameters on a dataset",
		Long: `Fit detection parameters on a dataset and print them as a parameter line
(pfx cfl max_nb_peaks similarity std) or as JSON.

Parameters set explicitly are kept: the grid strategy collapses their
axis, the elbow strategy skips their sweep. --candidates also prints every
grid candidate or every sweep.

Examples:
  bgp-leakscan fit prefixes.json conflicts.json
  bgp-leakscan fit prefixes.json conflicts.json --strategy elbow --candidates
  bgp-leakscan fit --jsonl documents.json --params-file candidates.txt >> fitted.txt
`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFit(cmd, args, format, showCandidates, cmd.OutOrStdout())
		},
	}

	addDetectionFlags(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", "line", "output format (line or json)")
	cmd.Flags().BoolVar(&showCandidates, "candidates", false, "print every evaluated candidate or sweep")

	return cmd
}

func runFit(cmd *cobra.Command, args []string, format string, showCandidates bool, w io.Writer) error {
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
	f, err := rt.newFitter()
	if err != nil {
		return err
	}

	var params models.Parameters
	switch typed := f.(type) {
	case *fitter.GridFitter:
		if !showCandidates {
			break
		}
		if params, err = fitGrid(cmd, typed, loaded.Data, w); err != nil {
			return err
		}
		return writeParameters(w, format, params)
	case *fitter.ElbowFitter:
		if !showCandidates {
			break
		}
		p, sweeps, err := typed.FitDetailed(ctx, loaded.Data)
		if err != nil {
			return err
		}
		writeSweeps(w, sweeps)
		return writeParameters(w, format, p)
	}

	cached := fitter.NewCachedFitter(f, fitter.NewCache(rt.redis, cfg.Fit.CacheTTL), rt.metrics)
	if params, err = cached.Fit(ctx, loaded.Data); err != nil {
		return err
	}
	return writeParameters(w, format, params)
}

func fitGrid(cmd *cobra.Command, f *fitter.GridFitter, data *models.Dataset, w io.Writer) (models.Parameters, error) {
	candidates, err := f.Evaluate(cmd.Context(), data)
	if err != nil {
		return models.Parameters{}, err
	}
	writeCandidates(w, candidates)

	best := fitter.Best(candidates)
	if best < 0 {
		return models.Parameters{}, fitter.ErrDegenerateSearch
	}
	return candidates[best].Params, nil
}
