package main

import (
	"fmt"
	"os"

	"github.com/crucial707/resource-scheduler/cmd/cli/root"
)

func main() {
	// Execute the root Cobra command
	if err := root.New().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
