package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/sweetspot/cmd/sweetspot/ui"
	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/undo"
	"github.com/spherical/sweetspot/internal/view"
)

var (
	listColumn  string
	listPattern string
	listSort    string
	listDesc    bool
	listLimit   int

	recordFlags = map[string]*string{}
	editSets    []string
	assumeYes   bool
)

// recordFlagColumns maps add/edit flags to table columns.
var recordFlagColumns = []struct {
	flag   string
	column string
	usage  string
}{
	{"product-id", domain.ColProductID, "product id (1-3 digits)"},
	{"sku", domain.ColSKU, "SKU (5 digits)"},
	{"description", domain.ColDescription, "article description / batch (required for add)"},
	{"expiry", domain.ColExpiryDate, "expiry date (DD.MM.YYYY)"},
	{"ean", domain.ColEAN, "EAN serial number"},
	{"remark", domain.ColRemark, "remark"},
	{"order-qty", domain.ColOrderQTY, "ordered quantity"},
	{"ship-qty", domain.ColShipQTY, "shipped quantity"},
	{"uom", domain.ColUOM, "unit of measure"},
	{"source", domain.ColSource, "source document"},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the products table",
	Long: `Show the products table with rows colored by expiry status.
Filter with --column and a case-insensitive regular expression in --pattern.`,
	RunE: runList,
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a product row",
	RunE:  runAdd,
}

var editCmd = &cobra.Command{
	Use:   "edit ID",
	Short: "Edit columns of a product row",
	Args:  cobra.ExactArgs(1),
	RunE:  runEdit,
}

var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a product row",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every row (a backup is taken first)",
	RunE:  runClear,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Recreate the store file from scratch (a backup is taken first)",
	RunE:  runReset,
}

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Undo the last change",
	RunE:  runUndo,
}

func init() {
	listCmd.Flags().StringVar(&listColumn, "column", view.ColumnAll, "column to filter (All, ID, SKU, EAN, Description, Expiry, Source)")
	listCmd.Flags().StringVarP(&listPattern, "pattern", "p", "", "regular expression to match")
	listCmd.Flags().StringVar(&listSort, "sort", "", "column to sort by (default: expiry date)")
	listCmd.Flags().BoolVar(&listDesc, "desc", false, "sort descending")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "show at most n rows")

	for _, f := range recordFlagColumns {
		recordFlags[f.flag] = addCmd.Flags().String(f.flag, "", f.usage)
	}
	editCmd.Flags().StringArrayVar(&editSets, "set", nil, `column assignment, e.g. --set "Expiry Date=01.02.2031"`)

	for _, c := range []*cobra.Command{deleteCmd, clearCmd, resetCmd} {
		c.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	}

	rootCmd.AddCommand(listCmd, addCmd, editCmd, deleteCmd, clearCmd, resetCmd, undoCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	column, err := view.ResolveColumn(listColumn)
	if err != nil {
		return err
	}
	sortBy := ""
	if listSort != "" {
		if sortBy, err = view.ResolveColumn(listSort); err != nil {
			return err
		}
	}

	rows, err := core.List(cmd.Context(), view.Query{Column: column, Pattern: listPattern, SortBy: sortBy, Desc: listDesc})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		ui.Info("No products found")
		return nil
	}

	shown := rows
	if listLimit > 0 && len(shown) > listLimit {
		shown = shown[:listLimit]
	}

	headers := []string{"ID", "SKU", "Description", "Expiry", "EAN", "Ship QTY", "UOM", "Source"}
	table := make([][]string, len(shown))
	statuses := make([]domain.ExpiryStatus, len(shown))
	for i, r := range shown {
		rec := r.Record
		table[i] = []string{
			rec.Get(domain.ColUniqueID), rec.SKU, rec.ArticleDescriptionBatch, rec.ExpiryDate,
			rec.EANSerialNo, rec.ShipQTY, rec.UOM, rec.PDFSource,
		}
		statuses[i] = r.Status
	}
	ui.StatusTable(headers, table, statuses)

	counts := view.Counts(rows)
	ui.Newline()
	ui.Message("%d rows (%d expired, %d within 14 days, %d within 30 days, %d invalid dates)",
		len(rows), counts[domain.ExpiryExpired], counts[domain.ExpirySoon],
		counts[domain.ExpiryUpcoming], counts[domain.ExpiryInvalid])
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	var rec domain.ProductRecord
	for _, f := range recordFlagColumns {
		if v := strings.TrimSpace(*recordFlags[f.flag]); v != "" {
			rec.Set(f.column, v)
		}
	}

	id, err := core.Add(cmd.Context(), rec)
	if err != nil {
		return err
	}
	ui.Success("Added row %d", id)
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if len(editSets) == 0 {
		return domain.ValidationError(`nothing to change, use --set "Column=value"`, nil)
	}

	changes := make(map[string]string, len(editSets))
	for _, s := range editSets {
		name, value, ok := strings.Cut(s, "=")
		if !ok {
			return domain.ValidationError(fmt.Sprintf("invalid assignment %q, expected Column=value", s), nil)
		}
		col, err := view.ResolveColumn(name)
		if err != nil {
			return err
		}
		if col == view.ColumnAll {
			return domain.ValidationError("a column name is required", nil)
		}
		changes[col] = strings.TrimSpace(value)
	}

	if _, err := core.Edit(cmd.Context(), id, changes); err != nil {
		return err
	}
	ui.Success("Updated row %d", id)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	rec, err := core.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	if ok, err := confirm(fmt.Sprintf("Delete row %d (%s)?", id, rec.ArticleDescriptionBatch)); err != nil || !ok {
		return err
	}

	if err := core.Delete(cmd.Context(), id); err != nil {
		return err
	}
	ui.Success("Deleted row %d", id)
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	if ok, err := confirm("Delete ALL rows from the products table?"); err != nil || !ok {
		return err
	}
	n, err := core.Clear(cmd.Context())
	if err != nil {
		return err
	}
	ui.Success("Cleared %d rows (run 'sweetspot undo' to restore)", n)
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	if ok, err := confirm("Delete the store file and start with an empty table?"); err != nil || !ok {
		return err
	}
	path, err := core.Reset(cmd.Context())
	if err != nil {
		return err
	}
	ui.Success("Store reset, previous file backed up to %s", path)
	return nil
}

func runUndo(cmd *cobra.Command, args []string) error {
	entry, err := core.Undo(cmd.Context())
	switch {
	case errors.Is(err, undo.ErrNothingToUndo):
		ui.Info("Nothing to undo")
		return nil
	case errors.Is(err, undo.ErrNotInvertible):
		ui.Warning("The last action (%s) cannot be undone", entry.Description)
		return nil
	case err != nil:
		return err
	}
	desc := entry.Description
	if desc == "" {
		desc = string(entry.Kind)
	}
	ui.Success("Undone: %s", desc)
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ValidationError(fmt.Sprintf("invalid row id %q", s), err)
	}
	return id, nil
}

func confirm(question string) (bool, error) {
	if assumeYes {
		return true, nil
	}
	ok, err := ui.Confirm(question, false)
	if err != nil {
		return false, err
	}
	if !ok {
		ui.Info("Cancelled")
	}
	return ok, nil
}
