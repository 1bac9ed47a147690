package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"popup-runtime/internal/simulate"
	"popup-runtime/pkg/logger"
)

func main() {
	logLevel := flag.String("log-level", "warn", "runtime log level, written to stderr")
	timeout := flag.Duration("timeout", 30*time.Second, "wall clock limit for the whole scenario")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: go run ./cmd/simulate [-log-level level] scenario.yaml")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.NewWithOptions(logger.Options{Level: *logLevel, Output: os.Stderr, Console: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	sc, err := simulate.LoadFile(flag.Arg(0))
	if err != nil {
		log.WithError(err).Fatal("Failed to load scenario")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := simulate.Run(ctx, sc, log)
	if err != nil {
		log.WithError(err).Fatal("Scenario failed")
	}

	// One JSON object per line, then the final inspection when the scenario runs in debug mode
	enc := json.NewEncoder(os.Stdout)
	for _, rec := range result.Records {
		if err := enc.Encode(rec); err != nil {
			log.WithError(err).Fatal("Failed to write record")
		}
	}
	if result.Final != nil {
		if err := enc.Encode(map[string]any{"kind": "inspect", "inspection": result.Final}); err != nil {
			log.WithError(err).Fatal("Failed to write inspection")
		}
	}
}
