// Package main is the entrypoint for the fedra CLI, the federated SPARQL
// query engine.
package main

import (
	"os"

	"github.com/canonica-labs/fedra/internal/cli"
)

func main() {
	os.Exit(cli.New().Execute())
}
