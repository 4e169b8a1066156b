package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/blockedby/tgfetch/internal/config"
	"github.com/blockedby/tgfetch/internal/nats"
	"github.com/blockedby/tgfetch/internal/publisher"
)

// eventsAction follows the task event stream of a running instance.
func eventsAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Read(cmd.String("config"))
	if err != nil {
		return err
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is not configured")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.New(ctx, cfg.NATS.URL)
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := nc.EnsureStream(ctx, cfg.NATS.Subject); err != nil {
		return err
	}

	subject := cfg.NATS.Subject + "." + cmd.String("filter")
	fmt.Fprintf(os.Stderr, "following %s\n", subject)
	return nc.Tail(ctx, subject, func(subject string, data []byte) error {
		var ev publisher.TaskEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			fmt.Printf("%s %s\n", subject, data)
			return nil
		}
		line := fmt.Sprintf("%s %-8s %-7s %d/%d %s", ev.FinishedAt.Format("15:04:05"), ev.Kind, ev.Status, ev.Attempt, ev.MaxAttempts, ev.Key)
		if ev.Error != "" {
			line += " (" + ev.Error + ")"
		}
		fmt.Println(line)
		return nil
	})
}
