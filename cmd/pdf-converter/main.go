package main

import (
	"os"

	"github.com/spherical/pdf-converter/cmd/pdf-converter/commands"
	"github.com/spherical/pdf-converter/cmd/pdf-converter/ui"
)

var (
	version = "0.1.0"
)

func main() {
	commands.SetVersion(version)
	if err := commands.Execute(); err != nil {
		ui.Error("Error: %v", err)
		os.Exit(commands.ExitCode(err))
	}
}
