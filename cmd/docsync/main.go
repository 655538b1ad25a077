// Command docsync runs the document sync service and exposes the data
// operations on the command line.
package main

import (
	"fmt"
	"os"
)

// Version is the docsync version (can be overridden at build time).
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
