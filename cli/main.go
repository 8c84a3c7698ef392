package main

import (
	"os"

	"github.com/impactwatch/impactwatch/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
