package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"campton/internal/api"
	"campton/internal/bot"
	"campton/internal/config"
	"campton/internal/ledger"
	"campton/internal/market"
	"campton/internal/persist"
	"campton/internal/sched"

	"github.com/bwmarrin/discordgo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDaemonFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var session *discordgo.Session
	if cfg.DiscordToken != "" {
		session, err = discordgo.New("Bot " + cfg.DiscordToken)
		if err != nil {
			logger.Error("discord session init failed", "err", err)
			os.Exit(1)
		}
	}

	local := persist.NewFileBackend(cfg.DataFile)
	var remotes []persist.Backend
	if session != nil {
		remotes = append(remotes, persist.NewDiscordBackend(session, cfg.BackupChannelID))
	}
	if cfg.DatabaseURL != "" {
		pg, err := persist.NewPostgresBackend(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("postgres backend init failed", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		remotes = append(remotes, pg)
	}
	gateway := persist.NewGateway(logger, local, remotes, cfg.RemoteSaveTimeout)

	snap, err := gateway.Load(ctx)
	if err != nil {
		logger.Error("ledger load failed", "err", err)
		os.Exit(1)
	}
	if snap == nil {
		logger.Info("no backup found, starting with a fresh ledger")
		snap = ledger.NewSnapshot(time.Now())
	}
	store := ledger.NewStore(snap, time.Now())
	engine := market.NewEngine(store, logger, gateway, cfg.ConversionInterval)

	scheduler := sched.New(sched.Config{
		PriceUpdateEvery:     cfg.PriceUpdateEvery,
		ConversionCheckEvery: cfg.ConversionCheckEvery,
		CountdownEvery:       cfg.CountdownEvery,
	}, engine, gateway, nil, logger)

	if session != nil {
		discordBot := bot.New(session, engine, scheduler, gateway, logger, cfg.AnnounceChannel, cfg.OwnerID, cfg.CoOwnerIDs)
		scheduler.SetNotifier(discordBot)
		if err := discordBot.Start(ctx); err != nil {
			logger.Error("discord adapter start failed", "err", err)
			os.Exit(1)
		}
		defer discordBot.Close()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		gateway.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()
	scheduler.SignalReady()

	server := api.New(logger, engine, gateway, scheduler, cfg.AdminToken)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("camptond listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	wg.Wait()
}
