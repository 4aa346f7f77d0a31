// Package main provides the entry point for the kbsearch service.
package main

import (
	"os"

	"github.com/assistsupport/kbsearch/cmd/kbsearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
