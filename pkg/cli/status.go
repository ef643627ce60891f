package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/catalog-enricher/pkg/models"
)

func statusCmd(opts *rootOptions) *cobra.Command {
	var checkSchema bool

	cmd := &cobra.Command{
		Use:   "status catalog.schema.table",
		Short: "Show the pipeline state of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseTableID(args[0])
			if err != nil {
				return err
			}

			return opts.run(needs{warehouse: checkSchema}, func(ctx context.Context, a *app) error {
				w := cmd.OutOrStdout()
				if checkSchema {
					changes, err := a.orchestrator.CheckSchema(ctx, id)
					if err != nil {
						return err
					}
					writeSchemaChanges(w, changes)
				}

				report, err := a.orchestrator.TableStatus(ctx, id)
				if err != nil {
					return err
				}
				writeTableStatus(w, report)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&checkSchema, "check-schema", false, "Compare the stored columns with the warehouse and record the result")
	return cmd
}

func editColumnCmd(opts *rootOptions) *cobra.Command {
	var (
		aliases     []string
		description string
		tag         string
	)

	cmd := &cobra.Command{
		Use:   "edit-column catalog.schema.table column",
		Short: "Overwrite the aliases, description or semantic tag of a column",
		Long: `Edit-column replaces curated fields of one enriched column. Only the
given flags change. The table's graph import is reset so the next sweep
re-exports it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseTableID(args[0])
			if err != nil {
				return err
			}

			var update models.ColumnFieldsUpdate
			if cmd.Flags().Changed("alias") {
				update.Aliases = aliases
			}
			if cmd.Flags().Changed("description") {
				update.Description = &description
			}
			if cmd.Flags().Changed("tag") {
				t := models.SemanticTag(tag)
				update.SemanticTag = &t
			}
			if update.IsEmpty() {
				return errors.New("nothing to change: pass --alias, --description or --tag")
			}

			return opts.run(needs{}, func(ctx context.Context, a *app) error {
				if err := a.orchestrator.UpdateColumnFields(ctx, id, args[1], update); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s.%s updated\n", green.Sprint("ok"), id, args[1])
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&aliases, "alias", nil, "Alias to store; repeat or comma-separate for several")
	cmd.Flags().StringVar(&description, "description", "", "Column description")
	cmd.Flags().StringVar(&tag, "tag", "", "Semantic tag, e.g. country or latitude; empty clears it")
	return cmd
}
