// Package main is the entry point for the evalctl CLI, a thin client for
// the eval-orchestrator HTTP API.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
