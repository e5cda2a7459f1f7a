package main

import (
	"os"

	"github.com/trailcap/trailcap/pkg/relay"
)

func main() {
	root := relay.NewRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
