package main

import (
	"os"

	"github.com/volsch/logship/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
