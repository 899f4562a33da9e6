// Package main is the entry point for the codelens broker CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dshills/codelens/internal/lsp"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

// configError marks failures the operator must fix in configuration;
// they exit with code 2 instead of 1.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func main() {
	os.Exit(run())
}

func run() int {
	defer lsp.SweepTrackedProcesses()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var cfgErr *configError
		if errors.As(err, &cfgErr) {
			return 2
		}
		return 1
	}
	return 0
}
