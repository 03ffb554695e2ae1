package app

import (
	"context"

	"github.com/darleet/coredb/cli"
)

var rootCmd = cli.Init("coredb")

func MustExecute(ctx context.Context) {
	initDemo()
	initBench()
	rootCmd.MustExecute(ctx)
}
