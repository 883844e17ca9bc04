package main

import (
	"os"

	"factcheck-challenge-service/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
