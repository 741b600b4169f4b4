package ui

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/spherical/sweetspot/internal/domain"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.Bold)
)

// statusColors mirrors the row highlighting of the table view: red for
// expired or unreadable dates, orange-ish for soon, yellow for upcoming.
var statusColors = map[domain.ExpiryStatus]*color.Color{
	domain.ExpiryExpired:  color.New(color.FgRed),
	domain.ExpiryInvalid:  color.New(color.FgRed),
	domain.ExpirySoon:     color.New(color.FgHiRed),
	domain.ExpiryUpcoming: color.New(color.FgYellow),
}

// Table displays data in a formatted table.
func Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, headerColor.Sprint(strings.Join(headers, "\t")))

	separator := make([]string, len(headers))
	for i := range separator {
		separator[i] = strings.Repeat("-", len(headers[i]))
	}
	fmt.Fprintln(w, strings.Join(separator, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	_ = w.Flush()
}

// StatusTable is Table with each row colored by its expiry status.
func StatusTable(headers []string, rows [][]string, statuses []domain.ExpiryStatus) {
	colored := make([][]string, len(rows))
	for i, row := range rows {
		c, ok := statusColors[statuses[i]]
		if !ok {
			colored[i] = row
			continue
		}
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = c.Sprint(cell)
		}
		colored[i] = cells
	}
	Table(headers, colored)
}

// Box displays text in a box with borders.
func Box(title string, content string) {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	maxWidth := len(title)
	for _, line := range lines {
		if len(line) > maxWidth {
			maxWidth = len(line)
		}
	}
	if maxWidth < 40 {
		maxWidth = 40
	}

	fmt.Fprintf(out, "┌%s┐\n", strings.Repeat("─", maxWidth+2))
	if title != "" {
		fmt.Fprintf(out, "│ %-*s │\n", maxWidth, title)
		fmt.Fprintf(out, "├%s┤\n", strings.Repeat("─", maxWidth+2))
	}
	for _, line := range lines {
		fmt.Fprintf(out, "│ %-*s │\n", maxWidth, line)
	}
	fmt.Fprintf(out, "└%s┘\n", strings.Repeat("─", maxWidth+2))
}

// ErrorBox displays an error with the log file location.
func ErrorBox(message, logPath string) {
	fmt.Fprintln(errOut)
	body := message
	if logPath != "" {
		body += "\n\nDetails were written to " + logPath
	}
	fmt.Fprintln(errOut, errorColor.Sprint("✗ Error"))
	for _, line := range strings.Split(body, "\n") {
		fmt.Fprintf(errOut, "  %s\n", line)
	}
	fmt.Fprintln(errOut)
}

// FormatList formats a list of items as bullets.
func FormatList(items []string) string {
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString(fmt.Sprintf("  • %s\n", item))
	}
	return sb.String()
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// FormatBytes renders a file size.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// KeyValue displays a key-value pair in a formatted way.
func KeyValue(key, value string) {
	fmt.Fprintf(out, "  %s: %s\n", key, value)
}

// Step displays a step indicator message.
func Step(format string, args ...interface{}) {
	fmt.Fprintf(out, "→ %s\n", fmt.Sprintf(format, args...))
}

// Message displays a plain line.
func Message(format string, args ...interface{}) {
	fmt.Fprintln(out, fmt.Sprintf(format, args...))
}

// Error displays an error message to stderr.
func Error(format string, args ...interface{}) {
	fmt.Fprintln(errOut, errorColor.Sprintf("✗ %s", fmt.Sprintf(format, args...)))
}

// Success displays a success message.
func Success(format string, args ...interface{}) {
	fmt.Fprintln(out, successColor.Sprintf("✓ %s", fmt.Sprintf(format, args...)))
}

// Warning displays a warning message.
func Warning(format string, args ...interface{}) {
	fmt.Fprintln(out, warnColor.Sprintf("⚠ %s", fmt.Sprintf(format, args...)))
}

// Info displays an informational message.
func Info(format string, args ...interface{}) {
	fmt.Fprintln(out, infoColor.Sprintf("ℹ %s", fmt.Sprintf(format, args...)))
}

// Newline prints a newline.
func Newline() {
	fmt.Fprintln(out)
}

// Section displays a section header.
func Section(title string) {
	fmt.Fprintf(out, "\n%s\n", headerColor.Sprint(title))
	fmt.Fprintf(out, "%s\n\n", strings.Repeat("=", len(title)))
}
