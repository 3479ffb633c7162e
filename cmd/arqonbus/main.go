// Package main is the ArqonBus server entrypoint binary.
//
// It intentionally delegates startup to the internal app package to keep
// main small and testable via app.Run.
package main

import (
	"log/slog"
	"os"

	"github.com/novelbytelabs/arqonbus/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		slog.Error("arqonbus.exit", "err", err)
		os.Exit(1)
	}
}
