// Package commands implements the sweetspot command tree.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/sweetspot/cmd/sweetspot/ui"
	"github.com/spherical/sweetspot/internal/app"
	"github.com/spherical/sweetspot/internal/config"
	"github.com/spherical/sweetspot/internal/observability"
)

var (
	cfgFile string
	verbose bool
	noColor bool

	cfg    *config.Config
	logger *observability.Logger
	core   *app.App
)

var rootCmd = &cobra.Command{
	Use:   "sweetspot",
	Short: "SweetSpot - delivery slip ingestion and expiry tracking",
	Long: `SweetSpot extracts products and expiry dates from delivery-slip PDFs and
photographed product lists, keeps them in a local SQLite table with backups
and single-step undo, and syncs the table with Dropbox.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.InitUI(noColor, verbose)

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			cfg.Observability.LogLevel = "debug"
			cfg.Observability.Console = true
		}

		logger, err = observability.NewFileLogger(cfg.DataDir, observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      cfg.Observability.LogFormat,
			ServiceName: "sweetspot",
		}, cfg.Observability.Console)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}

		core, err = app.New(cmd.Context(), cfg, logger.WithOperation(cmd.Name()))
		if err != nil {
			return fmt.Errorf("open data directory %s: %w", cfg.DataDir, err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command. Interrupts cancel the running operation
// at its next safe boundary.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// LogPath returns the log file of the current run, if one was opened.
func LogPath() string {
	if logger == nil {
		return ""
	}
	return logger.LogPath()
}
