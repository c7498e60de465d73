package main

import (
	"os"
)

// @title tablenorm API
// @version 1.0
// @description Normalizes tables extracted from documents into a canonical dataset and serves the run history.
// @BasePath /
func main() {
	rootCmd.SetOut(os.Stdout)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
