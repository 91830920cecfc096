// Command harvest mirrors a paginated upstream dataset into a local store.
package main

import (
	"os"

	"github.com/custodia-labs/harvest/internal/adapters/driving/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
