package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Cyb3rEchos/trend-scout/internal/app"
	"github.com/Cyb3rEchos/trend-scout/internal/config"
	"github.com/Cyb3rEchos/trend-scout/internal/logging"
)

const usage = `Usage: trendscout <command> [flags]

Commands:
  run      collect, enrich, score, and publish one batch
  collect  collect and enrich only, warming the local cache
  publish  replay a batch (requires --generated-at for an old batch)
  purge    delete cache records beyond the retention window
  doctor   check feed, cache, and result store health
  daemon   run the pipeline on the configured interval
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "run":
		err = runBatch(ctx, application, args, "run")
	case "publish":
		err = runBatch(ctx, application, args, "publish")
	case "collect":
		_, err = application.Collect(ctx)
	case "purge":
		err = application.Purge(ctx)
	case "doctor":
		err = application.Doctor(ctx)
	case "daemon":
		err = application.Daemon(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func runBatch(ctx context.Context, application *app.Application, args []string, name string) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	generatedAtFlag := fs.String("generated-at", "", "batch timestamp (RFC 3339) to replay; empty starts a new batch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var generatedAt time.Time
	if *generatedAtFlag != "" {
		parsed, err := time.Parse(time.RFC3339, *generatedAtFlag)
		if err != nil {
			return fmt.Errorf("parse --generated-at: %w", err)
		}
		generatedAt = parsed.UTC().Truncate(time.Second)
	}

	_, err := application.Run(ctx, generatedAt)
	return err
}
