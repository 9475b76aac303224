// Package main is the entry point for the offlinesync command.
package main

import (
	"os"

	"github.com/kimhsiao/offlinesync/cmd/offlinesync/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
