// Package main is the entry point for tdrf.
package main

import (
	"fmt"
	"os"

	"tdrf/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
