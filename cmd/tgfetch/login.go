package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mdp/qrterminal/v3"
	"github.com/urfave/cli/v3"

	"github.com/blockedby/tgfetch/internal/config"
	"github.com/blockedby/tgfetch/internal/logger"
	"github.com/blockedby/tgfetch/internal/telegram"
)

// loginAction runs the QR login and stores the user session.
func loginAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Read(cmd.String("config"))
	if err != nil {
		return err
	}
	if cfg.Telegram.APIID <= 0 || cfg.Telegram.APIHash == "" {
		return errors.New("api_id and api_hash are required to log in")
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		return err
	}

	db, err := telegram.OpenSessionDB(cfg.Session)
	if err != nil {
		return err
	}
	m := telegram.NewManager(cfg, db)
	if err := m.Init(ctx); err != nil {
		return err
	}
	defer m.Stop()
	if m.GetStatus() == telegram.StatusReady {
		fmt.Println("✓ already logged in")
		return nil
	}

	fmt.Println("open Telegram > Settings > Devices > Link Desktop Device and scan:")
	err = m.StartQR(ctx, func(url string) {
		qrterminal.GenerateHalfBlock(url, qrterminal.L, os.Stdout)
		fmt.Println(url)
	})
	if err != nil {
		return fmt.Errorf("qr login: %w", err)
	}
	fmt.Println("\n✓ authentication successful, session saved to", cfg.Session.DSN)
	return nil
}
