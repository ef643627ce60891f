package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/catalog-enricher/pkg/graph"
	"github.com/ekaya-inc/catalog-enricher/pkg/services"
)

func searchCmd(opts *rootOptions) *cobra.Command {
	var (
		k           int
		threshold   float64
		tablesOnly  bool
		columnsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "search query...",
		Short: "Find tables and columns by meaning",
		Long: `Search embeds the query and returns the exported tables and columns whose
summary embeddings are closest to it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var label string
			switch {
			case tablesOnly && !columnsOnly:
				label = graph.LabelTable
			case columnsOnly && !tablesOnly:
				label = graph.LabelColumn
			}

			return opts.run(needs{graph: true}, func(ctx context.Context, a *app) error {
				search := services.NewCatalogSearch(a.store, a.embedder, a.logger)
				hits, err := search.Search(ctx, strings.Join(args, " "), services.SearchOptions{
					K:        k,
					MinScore: threshold,
					Label:    label,
				})
				if err != nil {
					return err
				}
				writeSearchHits(cmd.OutOrStdout(), hits)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 10, "Number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.3, "Minimum cosine similarity")
	cmd.Flags().BoolVar(&tablesOnly, "tables", false, "Only return tables")
	cmd.Flags().BoolVar(&columnsOnly, "columns", false, "Only return columns")
	return cmd
}
