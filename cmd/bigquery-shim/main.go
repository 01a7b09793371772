package main

import (
	"os"

	"github.com/gfxtelemetry/bigquery-shim/cmd/bigquery-shim/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		os.Exit(1)
	}
}
