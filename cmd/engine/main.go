package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vn.io.arda/notification-engine/internal/application"
	"vn.io.arda/notification-engine/internal/auth"
	"vn.io.arda/notification-engine/internal/config"
	"vn.io.arda/notification-engine/internal/domain"
	"vn.io.arda/notification-engine/internal/infrastructure/keycloak"
	"vn.io.arda/notification-engine/internal/infrastructure/postgres"
	"vn.io.arda/notification-engine/internal/infrastructure/rest"
	"vn.io.arda/notification-engine/internal/stream"
	"vn.io.arda/notification-engine/internal/stream/kafka"
	"vn.io.arda/notification-engine/internal/stream/sse"
	"vn.io.arda/notification-engine/internal/stream/websocket"
	transporthttp "vn.io.arda/notification-engine/internal/transport/http"
)

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Server.Env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("env", cfg.Server.Env).
		Str("port", cfg.Server.Port).
		Str("backend", cfg.Backend.Kind).
		Str("stream", cfg.Stream.Transport).
		Msg("starting arda-notification-engine")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Credential ───────────────────────────────────────────────────────────
	var creds domain.CredentialSource
	var rotating bool
	switch {
	case cfg.Auth.Token != "":
		creds = auth.NewStatic(cfg.Auth.Token)
	case cfg.Keycloak.ClientSecret != "":
		creds = keycloak.New(cfg.Keycloak.BaseURL, cfg.Keycloak.Realm, cfg.Keycloak.ClientID, cfg.Keycloak.ClientSecret)
		rotating = true
	default:
		log.Warn().Msg("no credential configured, waiting for a surface to log in")
		creds = auth.NewStatic("")
	}

	token, _ := creds.Token(ctx)
	tenantKey := cfg.Backend.TenantKey
	if tenantKey == "" {
		tenantKey = auth.Realm(token)
	}

	// ── Backend ──────────────────────────────────────────────────────────────
	var backend domain.Backend
	switch cfg.Backend.Kind {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")

		userID := cfg.Database.UserID
		if userID == "" {
			userID = auth.Subject(token)
		}
		if userID == "" || tenantKey == "" {
			log.Fatal().Msg("postgres backend needs a tenant key and user id")
		}
		backend = postgres.New(pool, tenantKey, userID)
	case "rest":
		client := rest.New(cfg.Backend.BaseURL, creds, cfg.Backend.Timeout)
		client.TenantKey = tenantKey
		backend = client
	default:
		log.Fatal().Str("kind", cfg.Backend.Kind).Msg("unknown backend kind")
	}

	// ── Live stream transport ────────────────────────────────────────────────
	var dialer stream.Dialer
	switch cfg.Stream.Transport {
	case "sse":
		d := sse.New(cfg.Stream.URL, &http.Client{})
		d.TenantKey = tenantKey
		dialer = d
	case "websocket":
		dialer = websocket.New(cfg.Stream.URL)
	case "kafka":
		dialer = kafka.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	default:
		log.Fatal().Str("transport", cfg.Stream.Transport).Msg("unknown stream transport")
	}

	// ── Channel settings (hot-reloaded) ──────────────────────────────────────
	live := config.NewLive(domain.ChannelConfig(cfg.Channels))
	cfg.WatchChannels(live)

	// ── Engine & surface hub ─────────────────────────────────────────────────
	hub := transporthttp.NewHub()
	engine := application.New(application.Deps{
		Backend:     backend,
		Dialer:      dialer,
		Config:      live,
		Credentials: creds,
		Host:        hub,
		Sinks:       hub.Sinks(),
		Reporter:    hub,
		PageSize:    cfg.Backend.PageSize,
		StreamOptions: []stream.Option{
			stream.WithBackoff(cfg.Stream.BaseBackoff, cfg.Stream.MaxBackoff, cfg.Stream.MaxRetries),
			stream.WithStateHook(func(s stream.State) {
				hub.Broadcast(transporthttp.EventStream, map[string]string{"state": s.String()})
			}),
		},
	})

	changes, unsubscribe := engine.Store().Subscribe()
	defer unsubscribe()
	go hub.Follow(ctx, changes)

	if err := engine.Mount(ctx); err != nil {
		log.Warn().Err(err).Msg("initial history load failed, continuing with live updates")
	}

	// ── Credential rotation ──────────────────────────────────────────────────
	if rotating {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					engine.Reconcile(ctx)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// ── HTTP Server ──────────────────────────────────────────────────────────
	handler := transporthttp.NewHandler(engine, hub)
	router := transporthttp.NewRouter(handler, creds)

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("surface panel listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil {
			log.Info().Msg("HTTP server stopped")
		}
	}()

	// ── Graceful Shutdown ────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	engine.Close()

	log.Info().Msg("arda-notification-engine stopped")
}
