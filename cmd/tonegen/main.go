// Command tonegen converts sound intents into SuperCollider code.
package main

import (
	"os"

	"github.com/roach88/tonegen/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
