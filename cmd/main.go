/**
 * @description
 * This is the main entry point for the settlement service.
 * All commands live in internal/cli; running the binary without arguments starts the
 * service.
 */
package main

import (
	"os"

	"github.com/transfa/settlement-service/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
