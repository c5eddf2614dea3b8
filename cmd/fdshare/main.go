// fdshare CLI - Entry Point
//
// A thin wrapper around the fdshare library: cat and stat files the current
// user cannot access, by delegating the open(2) to the privileged helper.
package main

import (
	"fmt"
	"os"

	"github.com/chdir/fdshare/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
