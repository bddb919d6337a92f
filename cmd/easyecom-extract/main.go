package main

import (
	"fmt"
	"os"
)

// Version information set via ldflags during build.
var version = "dev"

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "easyecom-extract: %v\n", err)
		os.Exit(1)
	}
}
