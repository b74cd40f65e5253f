// Package main is the entry point for the aicg application.
package main

import (
	"os"

	"github.com/aicg/aicg/cmd/aicg/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
