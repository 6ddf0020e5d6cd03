// Package main is the entry point for uploadctl, the operator tool for
// upload areas.
package main

import (
	"os"

	"uploadplane/cmd/uploadctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
