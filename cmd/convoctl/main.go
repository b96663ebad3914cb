// Package main is the entry point for the convoctl CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "convoctl:", err)
		os.Exit(1)
	}
}
