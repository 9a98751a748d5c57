package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/ahmethakanbesel/diadict/internal/config"
	"github.com/ahmethakanbesel/diadict/internal/platform/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "diadict",
		Usage: "dialect dictionary import server and job tracker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "path to a .env file",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a TOML config file",
				Value: "diadict.toml",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			importCommand(),
			repairCommand(),
			endpointsCommand(),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration named by the global flags and sets up
// the default logger from it.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String("env"), cmd.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	logger.New(os.Stderr, logger.ParseConfig(cfg.LogLevel, cfg.LogFormat))
	return cfg, nil
}
