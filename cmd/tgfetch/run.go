package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/blockedby/tgfetch/internal/bot"
	"github.com/blockedby/tgfetch/internal/config"
	"github.com/blockedby/tgfetch/internal/listen"
	"github.com/blockedby/tgfetch/internal/logger"
	"github.com/blockedby/tgfetch/internal/nats"
	"github.com/blockedby/tgfetch/internal/publisher"
	"github.com/blockedby/tgfetch/internal/taskqueue"
	"github.com/blockedby/tgfetch/internal/telegram"
	"github.com/blockedby/tgfetch/internal/transfer"
	"github.com/blockedby/tgfetch/internal/web"
	"github.com/blockedby/tgfetch/internal/web/handlers"
	"github.com/blockedby/tgfetch/internal/wizard"
)

func runAction(ctx context.Context, cmd *cli.Command) error {
	// 1. Load config
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.Get()
	log.Info().Str("version", version).Msg("starting tgfetch")

	// 3. Setup context with graceful shutdown. /exit cancels it too.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	// 4. User account
	db, err := telegram.OpenSessionDB(cfg.Session)
	if err != nil {
		return err
	}
	tgManager := telegram.NewManager(cfg, db)
	if err := tgManager.Init(ctx); err != nil {
		log.Error().Err(err).Msg("telegram manager init failed")
	}
	defer tgManager.Stop()
	if tgManager.GetStatus() != telegram.StatusReady {
		if !cfg.HTTP.Enabled {
			return errors.New("user account is not logged in, run `tgfetch login` first")
		}
		log.Warn().Int("port", cfg.HTTP.Port).Msg("user account is not logged in, POST /api/v1/auth/qr to log in")
	}

	limiter := telegram.NewRateLimiter(cfg.Telegram.RateLimit, cfg.Telegram.RateBurst)
	tgClient := telegram.NewClient(tgManager, limiter, cfg.Telegram.CallTimeout)
	defer tgClient.Close()

	// 5. Task queue
	queue := taskqueue.New(taskqueue.Config{
		Workers: map[taskqueue.Kind]int{
			taskqueue.KindDownload: cfg.MaxTasks.Download,
			taskqueue.KindUpload:   cfg.MaxTasks.Upload,
		},
		MaxAttempts: map[taskqueue.Kind]int{
			taskqueue.KindDownload: cfg.MaxRetries.Download,
			taskqueue.KindUpload:   cfg.MaxRetries.Upload,
		},
	}, taskqueue.WithLogger(log.Component("queue")))

	svc := transfer.New(tgClient, queue, transfer.Options{
		SaveDirectory:     cfg.SaveDirectory,
		DownloadTypes:     mediaKinds(cfg.DownloadType),
		UploadAfter:       cfg.Upload.AfterDownload,
		UploadTarget:      cfg.Upload.Target,
		DeleteAfterUpload: cfg.Upload.DeleteAfterUpload,
	}, log.Component("transfer"))

	// 6. Bot front-end. Replies that originate outside an update go through b.
	var b *bot.Bot

	wz := wizard.New(svc,
		wizard.WithContext(ctx),
		wizard.WithLogger(log.Component("wizard")),
		wizard.OnDone(func(c wizard.Completion) {
			if err := b.Send(ctx, c.ChatID, bot.CompletionReply(c)); err != nil {
				log.Warn().Err(err).Int64("chat_id", c.ChatID).Msg("chat download report failed")
			}
		}),
	)

	registry := listen.NewRegistry(svc.Listener(),
		func(sub listen.Subscription, msg telegram.Message, err error) {
			b.Broadcast(ctx, bot.ListenFailureReply(sub, msg, err))
		},
		listen.WithDownloadTypes(mediaKinds(cfg.DownloadType)),
		listen.WithForwardTypes(mediaKinds(cfg.ForwardType)),
		listen.WithLogger(log.Component("listen")),
	)
	tgManager.OnMessage(func(ctx context.Context, msg telegram.Message) {
		registry.Dispatch(ctx, msg)
	})

	botClient, err := telegram.NewBotClient(cfg)
	if err != nil {
		return err
	}
	defer botClient.Stop()

	allowed := cfg.Telegram.AllowedUsers
	if len(allowed) == 0 {
		if self := tgClient.SelfID(); self != 0 {
			allowed = []int64{self}
		}
	}
	handler := bot.NewHandler(svc, tgClient, wz, registry, cancel, log.Component("bot"))
	b = bot.New(botClient, handler, allowed, log.Component("bot"))
	b.Register()

	if cfg.Notice {
		queue.Subscribe(func(rec taskqueue.Record) {
			if reply := bot.NoticeReply(rec); reply != nil {
				go b.Broadcast(ctx, reply)
			}
		})
	}

	// 7. NATS task events
	if cfg.NATS.URL != "" {
		nc, err := nats.New(ctx, cfg.NATS.URL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
		} else {
			defer nc.Close()
			if err := nc.EnsureStream(ctx, cfg.NATS.Subject); err != nil {
				log.Warn().Err(err).Msg("nats stream setup failed")
			}
			pub := publisher.NewNATSPublisher(nc, cfg.NATS.Subject, log.Component("publisher"))
			queue.Subscribe(pub.Observe)
			go pub.Run(ctx)
		}
	}

	// 8. HTTP status API and websocket
	var server *web.Server
	if cfg.HTTP.Enabled {
		hub := web.NewHub()
		go hub.Run()
		queue.Subscribe(web.TaskObserver(hub))

		server = web.NewServer(&web.Config{
			Port:        cfg.HTTP.Port,
			CORSOrigins: cfg.HTTP.CORSOrigins,
			Version:     version,
		}, hub)
		server.RegisterTasksHandler(handlers.NewTasksHandler(queue))
		server.RegisterListenHandler(handlers.NewListenHandler(registry))
		server.RegisterAuthHandler(handlers.NewAuthHandler(tgManager, hub))

		log.Info().Int("port", cfg.HTTP.Port).Msg("starting web server")
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("server error")
			}
		}()
	}

	// 9. Start workers and the startup links
	queue.Start(ctx)
	if len(cfg.Links) > 0 {
		sum := svc.DownloadLinks(ctx, cfg.Links)
		log.Info().Int("accepted", len(sum.Accepted)).Int("failed", len(sum.Failed)+len(sum.Invalid)).Msg("startup links submitted")
	}

	log.Info().Int("allowed_users", len(allowed)).Msg("tgfetch is running")

	// 10. Wait for shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down services...")

	queue.Stop()
	wz.Wait()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("web server shutdown")
		}
	}

	log.Info().Msg("shutdown complete")
	return nil
}

func mediaKinds(names []string) []telegram.MediaKind {
	out := make([]telegram.MediaKind, 0, len(names))
	for _, n := range names {
		out = append(out, telegram.MediaKind(n))
	}
	return out
}
