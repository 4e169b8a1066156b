package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/blockedby/tgfetch/internal/config"
)

var version = "dev"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   config.DefaultPath,
		Sources: cli.EnvVars("TGFETCH_CONFIG"),
	}
}

func main() {
	app := &cli.Command{
		Name:    "tgfetch",
		Usage:   "Download, upload and forward Telegram media through a bot",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start the bot, the task queue and the optional HTTP and NATS surfaces",
				Flags:  []cli.Flag{configFlag()},
				Action: runAction,
			},
			{
				Name:   "login",
				Usage:  "Log the user account in by scanning a QR code",
				Flags:  []cli.Flag{configFlag()},
				Action: loginAction,
			},
			{
				Name:  "config",
				Usage: "Configuration helpers",
				Commands: []*cli.Command{
					{
						Name:   "check",
						Usage:  "Load and validate the configuration, then print a summary",
						Flags:  []cli.Flag{configFlag()},
						Action: checkAction,
					},
				},
			},
			{
				Name:  "events",
				Usage: "Print task events published to NATS",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "filter",
						Usage: "Subject filter below the configured subject, e.g. download.failure",
						Value: ">",
					},
				},
				Action: eventsAction,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "tgfetch: %v\n", err)
		os.Exit(1)
	}
}
