// Package main is the entry point for the Chronicle alerting service.
package main

import (
	"os"

	"chronicle/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
