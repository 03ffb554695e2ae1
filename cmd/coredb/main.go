package main

import (
	"context"

	"github.com/darleet/coredb/cmd/coredb/app"
)

func main() {
	app.MustExecute(context.Background())
}
