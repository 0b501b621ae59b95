// Package main is the entry point for the entrasync batch job.
package main

import (
	"os"

	"github.com/devicelabs/entrasync/cmd/entrasync/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
