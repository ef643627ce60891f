// Package cli is the catalog-enricher command line. Every command is a thin
// caller of the pipeline services.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/config"
	"github.com/ekaya-inc/catalog-enricher/pkg/logging"
)

const defaultEnvFile = ".env"

type rootOptions struct {
	version    string
	configPath string
	envFile    string

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{version: version}

	cmd := &cobra.Command{
		Use:   "catalog-enricher",
		Short: "Enrich warehouse table metadata and export it as a searchable graph",
		Long: `catalog-enricher collects statistics and samples from warehouse tables,
classifies and names their columns, infers relationships between tables and
exports the result to a graph store with embeddings.

Configuration is read from config.yaml (see --config) with environment
variable overrides. A .env file in the working directory is loaded first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "Path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", defaultEnvFile, "Path to a .env file loaded before the configuration")

	cmd.AddCommand(
		migrateCmd(opts),
		enrichCmd(opts),
		relationshipsCmd(opts),
		exportCmd(opts),
		sweepCmd(opts),
		statusCmd(opts),
		searchCmd(opts),
		editColumnCmd(opts),
		versionCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() error {
	if err := godotenv.Load(o.envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || o.envFile != defaultEnvFile {
			return fmt.Errorf("failed to load %s: %w", o.envFile, err)
		}
	}

	cfg, err := config.Load(o.configPath, o.version)
	if err != nil {
		return err
	}
	o.cfg = cfg

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	o.logger = logger
	return nil
}

// run opens the parts of the stack named by n and calls fn with a context
// that is cancelled on SIGINT or SIGTERM.
func (o *rootOptions) run(n needs, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, o.cfg, o.logger, n)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func versionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// Skip config loading.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), opts.version)
		},
	}
}
