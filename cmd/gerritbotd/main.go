package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	btclogv1 "github.com/btcsuite/btclog"
	btclog "github.com/btcsuite/btclog/v2"
	"github.com/roasbeef/gerritbot/internal/baselib/actor"
	"github.com/roasbeef/gerritbot/internal/bot"
	"github.com/roasbeef/gerritbot/internal/build"
	"github.com/roasbeef/gerritbot/internal/config"
	"github.com/roasbeef/gerritbot/internal/db"
	"github.com/roasbeef/gerritbot/internal/dedup"
	"github.com/roasbeef/gerritbot/internal/gerrit"
	"github.com/roasbeef/gerritbot/internal/spark"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gerritbotd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String(
			"config", "config.yml", "Path to the config file",
		)
		logDir = flag.String(
			"logdir", "", "Directory for rotated log files "+
				"(empty to log to stdout only)",
		)
		debugLevel = flag.String(
			"debuglevel", "info", "Log level (trace, debug, "+
				"info, warn, error, critical)",
		)
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}

	// Log to stdout, plus a rotating file when a log directory is
	// configured.
	handlers := []btclog.Handler{
		btclog.NewDefaultHandler(os.Stdout),
	}
	if *logDir != "" {
		logWriter := build.NewRotatingLogWriter()
		rotatorCfg := build.DefaultLogRotatorConfig()
		rotatorCfg.LogDir = *logDir
		if err := logWriter.InitLogRotator(rotatorCfg); err != nil {
			return fmt.Errorf("unable to init log rotator: %w",
				err)
		}
		defer logWriter.Close()

		handlers = append(
			handlers, btclog.NewDefaultHandler(logWriter),
		)
	}

	handlerSet := build.NewHandlerSet(handlers...)
	level, ok := btclogv1.LevelFromString(*debugLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", *debugLevel)
	}
	handlerSet.SetLevel(level)

	subLogger := func(tag string) btclog.Logger {
		return btclog.NewSLogger(handlerSet.SubSystem(tag))
	}
	gerrit.UseLogger(subLogger(gerrit.Subsystem))
	spark.UseLogger(subLogger(spark.Subsystem))
	bot.UseLogger(subLogger(bot.Subsystem))
	actor.UseLogger(subLogger(actor.Subsystem))

	mainLog := subLogger("GBTD")
	mainLog.Infof("gerritbotd %s starting", build.Version())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		mainLog.Infof("Received %v, shutting down", sig)
		cancel()
	}()

	// Open the database and load the persisted user state.
	dbLog := slog.New(handlerSet.SubSystem("SQLD"))
	sqliteStore, err := db.OpenSqliteStore(cfg.DB.Path, dbLog)
	if err != nil {
		return fmt.Errorf("unable to open database: %w", err)
	}
	defer sqliteStore.Close()

	state := bot.NewState(db.NewUserStore(sqliteStore, dbLog))
	if err := state.Load(ctx); err != nil {
		return err
	}

	// One connection for ad-hoc commands, one for the event stream.
	connCfg := gerrit.ConnConfig{
		Addr:        cfg.Gerrit.Host,
		Username:    cfg.Gerrit.Username,
		PrivKeyPath: cfg.Gerrit.PrivKeyPath,
	}
	conn, err := gerrit.Connect(connCfg)
	if err != nil {
		return fmt.Errorf("unable to connect to gerrit: %w", err)
	}

	actorSystem := actor.NewActorSystem()
	defer actorSystem.Shutdown(context.Background())

	runner := gerrit.NewCommandRunner(actorSystem, conn)

	events := gerrit.StreamEvents(ctx, gerrit.StreamConfig{
		Conn: connCfg,
	})
	enriched := gerrit.ExtendedEvents(
		ctx, events, runner, bot.RequestExtendedInfo,
	)

	// Webex client plus the webhook receiver it feeds.
	sparkClient, err := spark.NewClient(ctx, spark.ClientConfig{
		APIURL:   cfg.Spark.APIURI,
		BotToken: cfg.Spark.BotToken,
	})
	if err != nil {
		return fmt.Errorf("unable to connect to webex: %w", err)
	}

	webhookServer := spark.NewWebhookServer(spark.WebhookConfig{
		Addr: cfg.Spark.ListenAddr,
	}, sparkClient)

	go func() {
		err := webhookServer.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLog.Errorf("Webhook server failed: %v", err)
			cancel()
		}
	}()
	go func() {
		<-ctx.Done()
		_ = webhookServer.Shutdown(context.Background())
	}()

	if cfg.Spark.WebhookURL != "" {
		err = sparkClient.RegisterWebhook(ctx, cfg.Spark.WebhookURL)
		if err != nil {
			return fmt.Errorf("unable to register webhook: %w",
				err)
		}
	}

	notifyBot := bot.New(bot.Config{
		State: state,
		Limiter: dedup.NewLimiter(
			cfg.Bot.MsgCapacity, cfg.Bot.MsgExpiration,
		),
		Chat:    sparkClient,
		Version: build.Version(),
	})

	mainLog.Infof("Connected to gerrit %s, listening for webhooks on %s",
		cfg.Gerrit.Host, cfg.Spark.ListenAddr)

	err = notifyBot.Run(ctx, enriched, webhookServer.Messages())
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
