package main

import (
	"os"

	"github.com/nightjarhq/nightjar/client/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
