// Package ui provides terminal output helpers for the pdf-converter CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

var (
	noColorFlag bool
	verboseFlag bool

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// InitUI applies the color and verbosity settings.
func InitUI(noColor, verbose bool) {
	noColorFlag = noColor
	verboseFlag = verbose

	if noColor {
		color.NoColor = true
	}
}

// Verbose reports whether verbose output was requested.
func Verbose() bool {
	return verboseFlag
}

// SetOutput redirects messages, mainly for tests.
func SetOutput(out, errOut io.Writer) {
	stdout = out
	stderr = errOut
}

func printColored(w io.Writer, attr color.Attribute, prefix, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if noColorFlag {
		fmt.Fprintf(w, "%s %s\n", prefix, msg)
		return
	}
	color.New(attr).Fprintf(w, "%s %s\n", prefix, msg)
}

// Success prints a success message.
func Success(format string, args ...interface{}) {
	printColored(stdout, color.FgGreen, "✓", format, args...)
}

// Error prints an error message to stderr.
func Error(format string, args ...interface{}) {
	printColored(stderr, color.FgRed, "✗", format, args...)
}

// Warning prints a warning message.
func Warning(format string, args ...interface{}) {
	printColored(stderr, color.FgYellow, "⚠", format, args...)
}

// Info prints an informational message.
func Info(format string, args ...interface{}) {
	printColored(stdout, color.FgCyan, "ℹ", format, args...)
}

// Step prints a step indicator.
func Step(format string, args ...interface{}) {
	printColored(stdout, color.FgBlue, "→", format, args...)
}

// Newline prints a newline.
func Newline() {
	fmt.Fprintln(stdout)
}

// Section displays a section header.
func Section(title string) {
	if noColorFlag {
		fmt.Fprintf(stdout, "\n%s\n", title)
	} else {
		color.New(color.FgCyan, color.Bold).Fprintf(stdout, "\n%s\n", title)
	}
	fmt.Fprintf(stdout, "%s\n\n", strings.Repeat("=", len(title)))
}

// KeyValue displays a key-value pair.
func KeyValue(key, value string) {
	fmt.Fprintf(stdout, "  %s: %s\n", key, value)
}

// Table displays rows under headers in aligned columns.
func Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))

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

// FormatBytes formats a byte count with a binary unit.
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
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
