package main

import (
	"fmt"
	"os"

	"github.com/roasbeef/gerritbot/cmd/gerritbot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
