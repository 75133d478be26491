package main

import (
	"log/slog"
	"os"

	"github.com/lutheralien/fluxsave-sdk-go/cmd"
)

func main() {
	app := cmd.CreateApp()

	if err := app.Run(os.Args); err != nil {
		cmd.LogError(slog.Default(), err)
		os.Exit(1)
	}
}
