// Package main is the entry point for the chzzk-recorder application.
package main

import (
	"os"

	"github.com/Vueroeruco/chzzk-recorder/cmd/chzzk-recorder/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
