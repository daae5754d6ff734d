package main

import (
	"os"

	"github.com/bosley/listener/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
