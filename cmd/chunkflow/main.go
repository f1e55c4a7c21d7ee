// Command chunkflow runs the chunked volume stages from the command line.
//
// Usage:
//
//	chunkflow [--config pipeline.yaml] [--root DIR] <command> [args]
//
// Dataset arguments are paths relative to --root. Mutating commands
// (threshold, filter) leave a completion marker and are skipped when run
// again with the same arguments unless --force is given.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
