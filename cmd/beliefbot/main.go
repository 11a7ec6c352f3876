package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/beliefbot/config"
	"github.com/alejandrodnm/beliefbot/internal/domain"
)

const usage = `usage: beliefbot [global flags] <command> [command flags]

commands:
  snapshot  -markets a,b                      capture and value positions
  trade     -market id -delta 1,0 [...]       run one guarded trade
  status                                      print the derived state
  events    [-since RFC3339] [-limit N]       print ledger events

global flags:
`

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	output := flag.String("output", "table", "report format: table|json")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	cmd, args := flag.Arg(0), flag.Args()[1:]
	slog.Info("beliefbot starting",
		"config", *configPath,
		"command", cmd,
		"data_dir", cfg.Storage.DataDir,
		"ledger", cfg.Storage.LedgerBackend,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *output, cmd, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		if domain.IsFatal(err) {
			slog.Error("fatal: halting", "command", cmd, "err", err)
		} else {
			slog.Error("command failed", "command", cmd, "err", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, output, cmd string, args []string) error {
	switch cmd {
	case "snapshot":
		return runSnapshot(ctx, cfg, output, args)
	case "trade":
		return runTrade(ctx, cfg, output, args)
	case "status":
		return runStatus(ctx, cfg, output, args)
	case "events":
		return runEvents(ctx, cfg, output, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// setupLogger escribe a stderr: stdout queda para los reportes.
func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
