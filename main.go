package main

import (
	"os"

	"github.com/smallnest/napcatbridge/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
