package main

import (
	"os"

	"github.com/statorq/statorq/cmd/statorq/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("Error: %v", err)
		os.Exit(1)
	}
}
