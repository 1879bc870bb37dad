package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"mapwatch/internal/app"
	"mapwatch/internal/clock"
	"mapwatch/internal/config"
)

// main starts the map monitor service from one TOML config file.
// Params: CLI flags (--config-file).
// Returns: process exit code by startup/run result.
func main() {
	configFile := flag.String("config-file", "", "path to one TOML config file")
	flag.Parse()

	path, err := config.FromCLI(*configFile)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	service, err := app.NewService(path, nil, clock.RealClock{})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service init failed:", err.Error())
		os.Exit(1)
	}

	if err := service.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service run failed:", err.Error())
		os.Exit(1)
	}
}
