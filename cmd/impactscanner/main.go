package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"ImpactScanner/internal/app"
	"ImpactScanner/internal/config"
	"ImpactScanner/internal/logging"
)

type options struct {
	Config   string `short:"c" long:"config" description:"Path to a YAML or TOML config file"`
	LogLevel string `long:"log-level" description:"Log level (debug, info, warn, error)"`

	Run     runCommand     `command:"run" description:"Analyze the news once and deliver the report"`
	Collect collectCommand `command:"collect" description:"Fetch the feeds into the snapshot file"`
	Serve   serveCommand   `command:"serve" description:"Run on the cron schedule and serve the latest report over HTTP"`
}

type runCommand struct {
	Snapshot  string   `long:"snapshot" description:"Analyze a collected snapshot file instead of the live feeds"`
	Threshold *float64 `long:"threshold" description:"Minimum impact score to report (0-10)"`
	MaxItems  *int     `long:"max-items" description:"Maximum items analyzed per run (0 = all)"`
	JSON      bool     `long:"json" description:"Print the report as JSON on stdout"`
}

type collectCommand struct{}

type serveCommand struct{}

var (
	opts options
	// cancelled on SIGINT/SIGTERM
	rootCtx context.Context
)

func main() {
	var stop context.CancelFunc
	rootCtx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, flagsErr.Message)
			return
		}
		fmt.Fprintln(os.Stderr, "impactscanner:", err)
		stop()
		os.Exit(1)
	}
}

func (c *runCommand) Execute(_ []string) error {
	cfg, logger, err := loadConfig(func(cfg *config.Config) {
		if c.Threshold != nil {
			cfg.Analysis.Threshold = *c.Threshold
		}
		if c.MaxItems != nil {
			cfg.Analysis.MaxItems = *c.MaxItems
		}
	})
	if err != nil {
		return err
	}

	application, err := app.New(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeApp(application, logger)

	report, err := application.Run(rootCtx, app.RunOptions{SnapshotPath: c.Snapshot})
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return nil
}

func (c *collectCommand) Execute(_ []string) error {
	cfg, logger, err := loadConfig(nil)
	if err != nil {
		return err
	}

	snapshot, err := app.Collect(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("collection finished", "items", len(snapshot.Items), "path", cfg.Snapshot.Path)
	return nil
}

func (c *serveCommand) Execute(_ []string) error {
	cfg, logger, err := loadConfig(nil)
	if err != nil {
		return err
	}

	application, err := app.New(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeApp(application, logger)

	logger.Info("serving", "addr", cfg.Server.Addr)
	return application.Serve(rootCtx)
}

// loadConfig reads the config, applies command overrides and builds the logger.
func loadConfig(override func(*config.Config)) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, nil, err
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if override != nil {
		override(&cfg)
		if err := cfg.Validate(); err != nil {
			return config.Config{}, nil, err
		}
	}

	logger := logging.NewWithFormat(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func closeApp(application *app.Application, logger *slog.Logger) {
	if err := application.Close(); err != nil {
		logger.Warn("close application", "error", err)
	}
}
