package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"evsales-dashboard/app"
	"evsales-dashboard/config"
	"evsales-dashboard/logger"
)

const usage = `usage: evsales-dashboard [command] [flags]

commands:
  serve                  run the HTTP API (default)
  sync [-source S] [-months N]
                         run one ingestion pass; S is GASGOO, CPCA, DCD or STOCKS,
                         empty runs every source, then stocks, then enrichment
  enrich                 classify models and fill synthetic prices
  seed                   create the schema and seed companies and policies
`

func main() {
	// Load config from .env file
	cfg := config.LoadFromEnv()
	flushLogs := logger.Init(cfg.Log)
	defer flushLogs()

	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	if err := run(command, args, cfg); err != nil {
		zap.S().Errorf("❌ %s failed: %v", command, err)
		flushLogs()
		os.Exit(1)
	}
}

func run(command string, args []string, cfg *config.Config) error {
	application := app.New(cfg)
	if command == "serve" {
		return application.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "sync":
		fs := flag.NewFlagSet("sync", flag.ContinueOnError)
		source := fs.String("source", "", "sales source tag or STOCKS; empty syncs everything")
		months := fs.Int("months", 0, "completed months to fetch (0 uses SYNC_MONTHS)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return application.RunSync(ctx, *source, *months)
	case "enrich":
		return application.RunEnrich(ctx)
	case "seed":
		return application.RunSeed(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}
