// Command bot is the Twitch to Discord live notification bot.
// It:
//   - Loads process configuration and initializes structured logging.
//   - Opens the state document (JSON file or postgres) holding the watch list,
//     Discord ids and Twitch credentials.
//   - Refreshes the Twitch app token once, then on TOKEN_REFRESH_CRON.
//   - Connects to Discord, registers the /twitch slash command and runs a
//     reconciliation cycle immediately, then on the document's cron.
//   - Exposes /healthz, /readyz, /metrics, /status and /admin/channels.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/osmanzeki/Twitch-Discord-Bot/config"
	"github.com/osmanzeki/Twitch-Discord-Bot/crypto"
	"github.com/osmanzeki/Twitch-Discord-Bot/db"
	"github.com/osmanzeki/Twitch-Discord-Bot/discord"
	"github.com/osmanzeki/Twitch-Discord-Bot/jobs"
	"github.com/osmanzeki/Twitch-Discord-Bot/oauth"
	"github.com/osmanzeki/Twitch-Discord-Bot/server"
	"github.com/osmanzeki/Twitch-Discord-Bot/state"
	"github.com/osmanzeki/Twitch-Discord-Bot/telemetry"
	"github.com/osmanzeki/Twitch-Discord-Bot/twitchapi"
	"github.com/osmanzeki/Twitch-Discord-Bot/watch"
)

const serviceName = "twitch-discord-bot"

var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing(serviceName, version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("bot stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT"))
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func run(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	mgr, err := state.NewManager(ctx, store)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	doc := mgr.Snapshot()
	slog.Info("state loaded",
		slog.String("backend", cfg.StateBackend),
		slog.Int("channels", len(doc.Twitch.Channels)))

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// env overrides win over the document
	credentials := func() (string, string) {
		d := mgr.Snapshot()
		id, secret := d.Twitch.ClientID, d.Twitch.Secret
		if cfg.TwitchClientID != "" {
			id = cfg.TwitchClientID
		}
		if cfg.TwitchClientSecret != "" {
			secret = cfg.TwitchClientSecret
		}
		return id, secret
	}
	refresher := &oauth.Refresher{
		Credentials: credentials,
		Exchange:    twitchapi.NewExchanger(httpClient),
		Tokens:      mgr,
		Timeout:     cfg.HTTPTimeout,
	}
	// first poll needs a token; a failure keeps whatever token is stored
	_ = refresher.Refresh(ctx)

	helix := &twitchapi.HelixClient{
		ClientIDFunc: func() string {
			id, _ := credentials()
			return id
		},
		Tokens:       mgr,
		HTTPClient:   httpClient,
	}

	discordToken := cfg.DiscordToken
	if discordToken == "" {
		discordToken = doc.Discord.Token
	}
	session, err := discord.New(discordToken)
	if err != nil {
		return err
	}
	session.Client = httpClient
	commands := &discord.Commands{Registry: mgr, Lookup: helix, Timeout: cfg.HTTPTimeout}
	session.AddHandler(commands.Handler(session.Session))
	session.AddHandler(discord.MessageDeleteHandler(mgr))
	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("discord session close failed", slog.Any("err", err))
		}
	}()
	if err := commands.Register(session.Session, session.AppID(), doc.Discord.ServerID); err != nil {
		slog.Warn("slash command registration failed", slog.Any("err", err))
	}

	engine := watch.NewEngine(helix, &discord.Sink{API: session.Session}, mgr,
		watch.WithConcurrency(cfg.MaxConcurrentPolls))

	// Immediate cycle on startup, before the scheduler can fire.
	engine.Reconcile(ctx)

	reconcileCron := doc.Cron
	if reconcileCron == "" {
		reconcileCron = jobs.DefaultReconcileCron
	} else if err := jobs.Validate(reconcileCron); err != nil {
		slog.Warn("invalid cron in state document, using default",
			slog.String("cron", reconcileCron), slog.Any("err", err))
		reconcileCron = jobs.DefaultReconcileCron
	}

	sched := jobs.New()
	if err := sched.Add("reconcile", reconcileCron, func(ctx context.Context) { engine.Reconcile(ctx) }); err != nil {
		return err
	}
	if err := sched.Add("token_refresh", cfg.TokenRefreshCron, func(ctx context.Context) { _ = refresher.Refresh(ctx) }); err != nil {
		return err
	}
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			slog.Warn("scheduler stop", slog.Any("err", err))
		}
	}()

	handlers := &server.Handlers{
		State:    mgr,
		Registry: mgr,
		Lookup:   helix,
		Checks: []server.Check{
			{Name: "twitch_token", Fn: func(ctx context.Context) error {
				_, err := mgr.AccessToken(ctx)
				return err
			}},
			{Name: "discord", Fn: func(context.Context) error {
				if !session.Ready() {
					return errors.New("discord gateway not connected")
				}
				return nil
			}},
		},
	}
	mux := server.NewMux(ctx, handlers, server.Options{
		Auth:      server.LoadAuthConfig(),
		RateLimit: server.LoadRateLimitConfig(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx, cfg.HTTPAddr, mux) })
	slog.Info("bot started",
		slog.Any("jobs", sched.Jobs()),
		slog.String("reconcile_cron", reconcileCron),
		slog.String("token_cron", cfg.TokenRefreshCron))
	return g.Wait()
}

// openStore selects the state backend and optional token sealing.
func openStore(ctx context.Context, cfg *config.Config) (state.Store, func(), error) {
	var sealer crypto.Sealer
	if cfg.EncryptionKey != "" {
		s, err := crypto.NewAESSealer(cfg.EncryptionKey)
		if err != nil {
			return nil, nil, fmt.Errorf("encryption key: %w", err)
		}
		sealer = s
	}

	if cfg.StateBackend != config.BackendPostgres {
		return &state.FileStore{Path: cfg.ConfigPath, Sealer: sealer}, func() {}, nil
	}

	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}
	closeDB := func(database *sql.DB) func() {
		return func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}
	}(database)
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Prepare(ctx, database); err != nil {
		closeDB()
		return nil, nil, err
	}
	return &state.PGStore{DB: database, Sealer: sealer}, closeDB, nil
}
