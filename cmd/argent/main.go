// Package main is the entry point for the argent CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "argent:", err)
		os.Exit(1)
	}
}
