package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"horse.fit/dronewatch/internal/cli"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	input := fs.String("input", "", "Candidate batch: .json array or object, .ndjson, or - for stdin")
	pretty := fs.Bool("pretty", false, "Indent the JSON summary")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	path := strings.TrimSpace(*input)
	if path == "" && fs.NArg() > 0 {
		path = strings.TrimSpace(fs.Arg(0))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "--input is required")
		return 2
	}

	payloads, err := readPayloadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read candidates: %v\n", err)
		return 1
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("run failed to initialize")
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer rt.Close()

	svc, err := rt.pipeline()
	if err != nil {
		logger.Error().Err(err).Msg("run failed to build pipeline")
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		return 1
	}

	result, err := svc.RunJSON(ctx, payloads)
	if err != nil {
		logger.Error().Err(err).Str("input", path).Msg("batch run failed")
		fmt.Fprintf(os.Stderr, "Batch failed: %v\n", err)
		return 1
	}

	encoder := json.NewEncoder(os.Stdout)
	if *pretty {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write summary: %v\n", err)
		return 1
	}

	if result.Failed > 0 {
		fmt.Fprintf(os.Stderr, "%d incident(s) failed to persist and will be retried on the next run\n", result.Failed)
		return 1
	}
	return 0
}
