package main

import (
	"bufio"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/dataset"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func convertCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "convert <prefixes> <conflicts>",
		Short: "Rewrite a prepared file pair as JSON-lines documents",
		Long: `Convert pairs a prefix file with a conflict file and writes one
{"ases", "prefixes", "conflicts"} document per distinct pair of series.
ASes with identical series share a document.

Example:
  bgp-leakscan convert prefixes.json conflicts.json -o documents.json
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			loaded, err := dataset.LoadPrepared(args[0], args[1])
			if err != nil {
				return err
			}

			w, closeOut, err := openOutput(outPath, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer closeOut()

			buf := bufio.NewWriter(w)
			if err := dataset.WriteDocuments(buf, loaded.Data); err != nil {
				return err
			}
			if err := buf.Flush(); err != nil {
				return err
			}
			if loaded.HasStartDate() {
				log.Warnf("Documents carry no start date; pass --start-date %s when reading them", loaded.Date(0))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write documents to this file instead of stdout")

	return cmd
}
