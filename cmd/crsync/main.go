// Package main provides the entry point for the crsync CLI.
package main

import (
	"os"

	"github.com/contentgraph/crsync/cmd/crsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
