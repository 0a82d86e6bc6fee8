// Package main is the entry point for the hlsclient application.
package main

import (
	"os"

	"github.com/jmylchreest/hlsclient/cmd/hlsclient/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
