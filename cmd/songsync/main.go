// Command songsync is the CLI for the songsync client.
package main

import (
	"os"

	"github.com/songsync-app/songsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
