// Package ui provides terminal output components for the sweetspot CLI.
package ui

import (
	"io"
	"os"

	"github.com/fatih/color"
)

var (
	verboseFlag bool
	out         io.Writer = os.Stdout
	errOut      io.Writer = os.Stderr
)

// InitUI applies the color and verbosity flags.
func InitUI(noColor, verbose bool) {
	verboseFlag = verbose
	if noColor {
		color.NoColor = true
	}
}

// Verbose reports whether --verbose was given.
func Verbose() bool {
	return verboseFlag
}

// SetOutput redirects standard and error output, mainly for tests.
func SetOutput(stdout, stderr io.Writer) {
	out, errOut = stdout, stderr
}
