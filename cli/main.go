package main

import (
	"os"

	"github.com/aegis-telemetry/aegis/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
