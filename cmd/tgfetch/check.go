package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/blockedby/tgfetch/internal/config"
)

func checkAction(_ context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Printf("✓ %s is valid\n", path)
	fmt.Printf("  save directory: %s\n", cfg.SaveDirectory)
	fmt.Printf("  session:        %s (%s)\n", cfg.Session.Driver, cfg.Session.DSN)
	fmt.Printf("  workers:        download=%d upload=%d\n", cfg.MaxTasks.Download, cfg.MaxTasks.Upload)
	fmt.Printf("  attempts:       download=%d upload=%d\n", cfg.MaxRetries.Download, cfg.MaxRetries.Upload)
	fmt.Printf("  download types: %s\n", strings.Join(cfg.DownloadType, ", "))
	fmt.Printf("  forward types:  %s\n", strings.Join(cfg.ForwardType, ", "))
	if cfg.Proxy.Enable {
		fmt.Printf("  proxy:          %s://%s\n", cfg.Proxy.Scheme, cfg.Proxy.Addr())
	}
	if cfg.Upload.AfterDownload {
		fmt.Printf("  upload to:      %s (delete after: %t)\n", cfg.Upload.Target, cfg.Upload.DeleteAfterUpload)
	}
	if cfg.HTTP.Enabled {
		fmt.Printf("  http:           :%d\n", cfg.HTTP.Port)
	}
	if cfg.NATS.URL != "" {
		fmt.Printf("  nats:           %s (%s.>)\n", cfg.NATS.URL, cfg.NATS.Subject)
	}
	if len(cfg.Telegram.AllowedUsers) == 0 {
		fmt.Println("  allowed users:  the logged in account only")
	}
	return nil
}
