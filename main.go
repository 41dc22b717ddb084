// Package main is the entry point for the Flight Core.
package main

import (
	"fmt"
	"os"

	"github.com/nova-avionics/flightcore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
