package main

import (
	"os"

	"github.com/relaydesk/relaydesk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
