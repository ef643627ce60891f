package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/catalog-enricher/pkg/database"
)

func migrateCmd(opts *rootOptions) *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the metadata store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := database.NewConnection(ctx, &database.Config{
				URL:            opts.cfg.Database.ConnectionString(),
				MaxConnections: opts.cfg.Database.MaxConnections,
			})
			if err != nil {
				return fmt.Errorf("failed to connect to metadata store: %w", err)
			}
			defer db.Close()

			sqlDB := stdlib.OpenDBFromPool(db.Pool)
			defer sqlDB.Close()

			if down > 0 {
				return database.RollbackMigrations(sqlDB, down, opts.logger)
			}
			return database.RunMigrations(sqlDB, opts.logger)
		},
	}

	cmd.Flags().IntVar(&down, "down", 0, "Roll back this many migrations instead of applying")
	return cmd
}
