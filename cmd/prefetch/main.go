package main

import (
	"os"

	"github.com/bianoble/prefetch/cmd/prefetch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
