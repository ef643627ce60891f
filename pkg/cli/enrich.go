package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/catalog-enricher/pkg/models"
	"github.com/ekaya-inc/catalog-enricher/pkg/services"
)

func enrichCmd(opts *rootOptions) *cobra.Command {
	var (
		force      bool
		tablesFile string
	)

	cmd := &cobra.Command{
		Use:   "enrich [catalog.schema.table...]",
		Short: "Collect, classify and name the columns of one or more tables",
		Long: `Enrich claims the enrichment axis of every given table and runs
collection, classification, geographic detection and naming. Tables that are
in progress elsewhere or at the retry ceiling are reported as skipped.

--force re-enriches COMPLETED tables: stored columns are deleted and the
retry budget is reset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseTableIDs(args)
			if err != nil {
				return err
			}
			if tablesFile != "" {
				fromFile, err := loadTablesFile(tablesFile)
				if err != nil {
					return err
				}
				ids, err = parseTableIDs(append(idStrings(ids), idStrings(fromFile)...))
				if err != nil {
					return err
				}
			}
			if len(ids) == 0 {
				return errors.New("no tables given")
			}

			return opts.run(needs{warehouse: true, llm: true}, func(ctx context.Context, a *app) error {
				results := a.orchestrator.EnrichTables(ctx, ids, services.EnrichOptions{ForceRefresh: force})
				if failed := writeItemResults(cmd.OutOrStdout(), results); failed > 0 {
					return fmt.Errorf("%d of %d tables failed", failed, len(results))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-enrich tables that already completed")
	cmd.Flags().StringVar(&tablesFile, "tables-file", "", "YAML file with a tables: list")
	return cmd
}

func idStrings(ids []models.TableID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func relationshipsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relationships catalog.schema.table",
		Short: "Infer relationships between a table and every other enriched table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseTableID(args[0])
			if err != nil {
				return err
			}

			return opts.run(needs{llm: true}, func(ctx context.Context, a *app) error {
				result, err := a.orchestrator.DetectRelationships(ctx, id)
				if services.IsNotClaimed(err) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %v\n", yellow.Sprint("skipped"), id, err)
					return nil
				}
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if result.Skipped {
					fmt.Fprintf(w, "%s %s has no columns; enrich it first\n", yellow.Sprint("skipped"), id)
					return nil
				}
				fmt.Fprintf(w, "%s %s: %d relationships stored from %d tables (%s)\n",
					green.Sprint("ok"), id, result.Stored, result.Targets, result.DetectedWith)

				for _, t := range slices.Sorted(maps.Keys(result.ByType)) {
					fmt.Fprintf(w, "  %-12s %d\n", t, result.ByType[t])
				}
				if result.PairErrors > 0 {
					fmt.Fprintf(w, "  %s %d batches failed\n", yellow.Sprint("!"), result.PairErrors)
				}
				return nil
			})
		},
	}
}

func exportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export catalog.schema.table",
		Short: "Write a table, its columns and relationships into the graph store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseTableID(args[0])
			if err != nil {
				return err
			}

			return opts.run(needs{graph: true}, func(ctx context.Context, a *app) error {
				result, err := a.orchestrator.ExportGraph(ctx, id)
				if services.IsNotClaimed(err) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %v\n", yellow.Sprint("skipped"), id, err)
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d columns, %d vectors, %d related edges (%d pending)\n",
					green.Sprint("ok"), id, result.Columns, result.Vectors, result.RelatedEdges, result.PendingEdges)
				if len(result.ExcludedColumns) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "  derived columns left out: %v\n", result.ExcludedColumns)
				}
				return nil
			})
		},
	}
}
