package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"PriceSim/internal/di"
	"PriceSim/internal/domain/models"
	"PriceSim/pkg/config"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path (empty for built-in defaults)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before config, if present")
	mode := flag.String("mode", "", "once or serve (overrides config)")
	dataFile := flag.String("data", "", "market data JSON file")
	volatility := flag.Float64("volatility", 0, "volatility in [0, 2]")
	horizon := flag.Int("horizon", 0, "simulation length in seconds")
	seed := flag.String("seed", "", "noise seed for a reproducible run")
	out := flag.String("out", "", "results file name")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "env file %s: %v\n", *envFile, err)
		os.Exit(2)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(2)
	}

	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "data":
			cfg.Simulation.DataFile = *dataFile
		case "volatility":
			cfg.Simulation.Volatility = *volatility
		case "horizon":
			cfg.Simulation.DurationSeconds = *horizon
		case "seed":
			v, err := strconv.ParseUint(*seed, 10, 64)
			if err != nil {
				flagErr = errors.Join(flagErr, fmt.Errorf("-seed: %w", err))
				return
			}
			cfg.Simulation.Seed = &v
		case "out":
			cfg.Output.File = *out
		}
	})
	if err := errors.Join(flagErr, cfg.Validate()); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "app initialization failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = app.Run(ctx)
	stop()
	cleanup()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	var (
		ve *models.ValidationError
		ce *models.ConfigurationError
		ie *models.InterruptedError
	)
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ie):
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 130
	case errors.As(err, &ve), errors.As(err, &ce):
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
}
