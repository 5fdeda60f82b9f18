// Command hostpatch rewrites a host IR module's kernel launch sequences into
// calls against the portable runtime ABI, reading the companion device IR
// module to resolve each kernel's declared parameters.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/xyproto/hostpatch/internal/config"
	"github.com/xyproto/hostpatch/internal/diag"
	"github.com/xyproto/hostpatch/internal/driver"
	"github.com/xyproto/hostpatch/internal/ir"
)

func main() {
	var hostRawFile = flag.String("hostrawfile", "", "path to the unpatched host IR file (required)")
	var deviceLLFile = flag.String("devicellfile", "", "path to the device-side IR file")
	var hostPatchedFile = flag.String("hostpatchedfile", "", "path to write the patched host IR file (required)")
	var verbose = flag.Bool("v", false, "verbose mode (show per-function rewrite progress)")
	var verboseLong = flag.Bool("verbose", false, "verbose mode (show per-function rewrite progress)")
	var quiet = flag.Bool("q", false, "quiet mode (suppress warnings)")
	var quietLong = flag.Bool("quiet", false, "quiet mode (suppress warnings)")
	flag.Parse()

	diag.Verbose = *verbose || *verboseLong || config.Verbose()
	diag.Quiet = *quiet || *quietLong

	if diag.Verbose {
		fmt.Fprintf(os.Stderr, "DEBUG main: verbose mode enabled\n")
	}

	deviceFile := *deviceLLFile
	if deviceFile == "" {
		deviceFile = config.DeviceIRPath()
	}

	if *hostRawFile == "" || *hostPatchedFile == "" || deviceFile == "" {
		fmt.Fprintln(os.Stderr, "Error: --hostrawfile, --devicellfile, and --hostpatchedfile are all required")
		flag.Usage()
		os.Exit(-1)
	}

	hostSrc, err := os.ReadFile(*hostRawFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: reading %s: %v\n", *hostRawFile, err)
		os.Exit(-1)
	}
	deviceSrc, err := os.ReadFile(deviceFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: reading %s: %v\n", deviceFile, err)
		os.Exit(-1)
	}

	d := driver.New()
	patched, err := d.Run(string(hostSrc), string(deviceSrc))
	if err != nil {
		os.Exit(exitCodeFor(err))
	}

	if err := os.WriteFile(*hostPatchedFile, []byte(patched), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: writing %s: %v\n", *hostPatchedFile, err)
		os.Exit(-1)
	}

	if diag.Verbose {
		fmt.Fprintf(os.Stderr, "DEBUG main: wrote patched host IR to %s\n", *hostPatchedFile)
	}
}

// exitCodeFor maps an error to spec.md §6's exit-code table literally: 1 if
// either input IR fails to parse, -1 for a transformation error (which
// includes a post-rewrite verification failure — it is not an input-parse
// failure).
func exitCodeFor(err error) int {
	diag.Errorf("%v", err)
	if ie, ok := err.(*ir.Error); ok && ie.Kind == ir.ErrParseFailure {
		return 1
	}
	return -1
}
