package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"horse.fit/dronewatch/internal/cli"
	"horse.fit/dronewatch/internal/logging"
	"horse.fit/dronewatch/internal/maintenance"
)

func runCleanup(args []string) int {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
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

	ctx := context.Background()
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("cleanup failed to initialize")
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer rt.Close()

	scheduler := maintenance.New(rt.cache, rt.metrics, logging.Component(logger, "maintenance"))
	removed, err := scheduler.RunOnce(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
		return 1
	}

	fmt.Printf("cleanup removed=%d retention=%s backend=%s\n", removed, cfg.CacheRetention, cfg.CacheBackend)
	return 0
}
