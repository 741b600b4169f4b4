package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/sweetspot/cmd/sweetspot/ui"
	"github.com/spherical/sweetspot/internal/config"
	"github.com/spherical/sweetspot/internal/domain"
)

var (
	exportOutput string
	configKey    string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory, store and default config",
	RunE:  runInit,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the products table as CSV",
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Append rows from a CSV file",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List or archive store backups",
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	RunE:  runBackupsList,
}

var backupsArchiveCmd = &cobra.Command{
	Use:   "archive DEST",
	Short: "Bundle every backup into a .zip or .tar.gz archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := core.ArchiveBackups(args[0])
		if err != nil {
			return err
		}
		ui.Success("Archived %d backups to %s", n, args[0])
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active settings and file locations",
	RunE:  runConfigShow,
}

var configSetAPIKeyCmd = &cobra.Command{
	Use:   "set-api-key",
	Short: "Save the OpenAI API key to the data directory",
	RunE:  runSetAPIKey,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default: stdout)")
	configSetAPIKeyCmd.Flags().StringVar(&configKey, "key", "", "API key (prompted for when omitted)")

	backupsCmd.AddCommand(backupsListCmd, backupsArchiveCmd)
	configCmd.AddCommand(configShowCmd, configSetAPIKeyCmd)
	rootCmd.AddCommand(initCmd, exportCmd, importCmd, backupsCmd, configCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(cfg.DataDir, config.ConfigFileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := cfg.Save(); err != nil {
			return domain.IOError("failed to write config", err)
		}
		ui.Success("Wrote default settings to %s", path)
	} else {
		ui.Info("Keeping existing settings in %s", path)
	}

	n, err := core.Store().Count(cmd.Context())
	if err != nil {
		return err
	}
	ui.Success("Store ready at %s (%d rows)", cfg.StorePath(), n)

	if cfg.Inference.APIKey == "" {
		ui.Warning("No OpenAI API key yet, run 'sweetspot config set-api-key'")
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return domain.IOError("failed to create "+exportOutput, err)
		}
		defer f.Close()
		w = f
	}

	n, err := core.Export(cmd.Context(), w)
	if err != nil {
		return err
	}
	if exportOutput != "" {
		ui.Success("Exported %d rows to %s", n, exportOutput)
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return domain.ValidationError("cannot open "+args[0], err)
	}
	defer f.Close()

	n, err := core.Import(cmd.Context(), f)
	if err != nil {
		return err
	}
	ui.Success("Imported %d rows (run 'sweetspot undo' to revert)", n)
	return nil
}

func runBackupsList(cmd *cobra.Command, args []string) error {
	backups, err := core.ListBackups()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		ui.Info("No backups in %s", core.Backups().Dir())
		return nil
	}

	rows := make([][]string, len(backups))
	for i, b := range backups {
		rows[i] = []string{filepath.Base(b.Path), ui.FormatBytes(b.Size), b.ModTime.Format(time.DateTime)}
	}
	ui.Table([]string{"Backup", "Size", "Created"}, rows)
	ui.Newline()
	ui.KeyValue("Directory", core.Backups().Dir())
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	ui.Section("Files")
	ui.KeyValue("Data directory", cfg.DataDir)
	ui.KeyValue("Store", cfg.StorePath())
	ui.KeyValue("Backups", cfg.BackupDir())
	ui.KeyValue("Log", LogPath())

	ui.Section("Inference")
	ui.KeyValue("API key", maskKey(cfg.Inference.APIKey))
	ui.KeyValue("Text model", cfg.Inference.TextModel)
	ui.KeyValue("Vision model", cfg.Inference.VisionModel)
	ui.KeyValue("Timeout", cfg.Inference.Timeout.String())

	ui.Section("Batch")
	ui.KeyValue("Failure policy", cfg.Batch.Policy)
	ui.KeyValue("Scanned pages via vision", fmt.Sprint(cfg.Pipeline.ScannedPageVision))

	ui.Section("Report")
	ui.KeyValue("Window", fmt.Sprintf("%d days", cfg.Report.WindowDays))
	ui.KeyValue("Recipients", strings.Join(cfg.Report.Recipients, ", "))

	if entry, ok := core.LastAction(); ok {
		ui.Section("Undo")
		ui.KeyValue("Last action", fmt.Sprintf("%s (%s)", entry.Description, entry.CreatedAt.Format(time.DateTime)))
	}
	return nil
}

func runSetAPIKey(cmd *cobra.Command, args []string) error {
	key := configKey
	if key == "" {
		var err error
		if key, err = ui.PromptRequired("OpenAI API key"); err != nil {
			return err
		}
	}
	if err := core.SetAPIKey(key); err != nil {
		return domain.ConfigError("failed to save API key", err)
	}
	ui.Success("API key saved to %s", cfg.EnvPath())
	return nil
}

func maskKey(k string) string {
	if k == "" {
		return "(not set)"
	}
	if len(k) <= 8 {
		return strings.Repeat("*", len(k))
	}
	return k[:4] + strings.Repeat("*", len(k)-8) + k[len(k)-4:]
}
