// Package diag holds hostpatch's ambient verbosity flags and the small
// fmt.Fprintf(os.Stderr, ...) diagnostic helpers built on them, mirroring
// the teacher's package-level VerboseMode/QuietMode globals and its
// "if VerboseMode { fmt.Fprintf(os.Stderr, ...) }" convention (main.go).
package diag

import (
	"fmt"
	"os"
)

// Verbose and Quiet mirror the teacher's VerboseMode/QuietMode globals: set
// once from CLI flags (or internal/config overrides) at startup, read
// everywhere.
var Verbose bool
var Quiet bool

// Debugf prints a diagnostic line to stderr when Verbose is set.
func Debugf(format string, args ...any) {
	if Verbose {
		fmt.Fprintf(os.Stderr, "DEBUG "+format+"\n", args...)
	}
}

// Warnf prints a warning to stderr unless Quiet is set. Used for
// non-fatal conditions such as launch-site parameter-count overflow
// (spec.md invariant 1: "Overflow is a warning, not fatal").
func Warnf(format string, args ...any) {
	if !Quiet {
		fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
	}
}

// Errorf prints an error to stderr, regardless of Quiet.
func Errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
