// Package main provides the entry point for the indexhelper CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/indexhelper/cmd/indexhelper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
