package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fechatter/fechatter-go/internal/auth"
	"github.com/fechatter/fechatter-go/internal/bus"
	"github.com/fechatter/fechatter-go/internal/cache"
	"github.com/fechatter/fechatter-go/internal/config"
	"github.com/fechatter/fechatter-go/internal/db"
	"github.com/fechatter/fechatter-go/internal/httpapi"
	"github.com/fechatter/fechatter-go/internal/ids"
	"github.com/fechatter/fechatter-go/internal/observability"
	"github.com/fechatter/fechatter-go/internal/realtime"
	"github.com/fechatter/fechatter-go/internal/search"
	"github.com/fechatter/fechatter-go/internal/store"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	cfg, err := config.Load(env("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	observability.InitLogger("fechatter-api", cfg.Features.Observability.LogLevel, env("ENV", "") == "dev")

	if cfg.Server.DBURL == "" {
		log.Fatal().Msg("server.db_url is required")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, cfg.Server.DBURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	users := store.NewUserRepo(pool)
	chats := store.NewChatRepo(pool)
	messages := store.NewMessageRepo(pool, cfg.Features.Messaging.EditWindow)
	refreshes := store.NewAuthRepo(pool)
	outbox := store.NewOutboxRepo(pool)

	tokens, err := auth.NewTokenEngine(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath, cfg.Auth.TokenExpiration)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load RS256 keypair")
	}
	authSvc := auth.NewService(tokens, users, refreshes, cfg.Auth.RefreshTokenExpiration, cfg.Auth.RefreshAbsoluteExpiry)

	redisCache := cache.New("")
	if cfg.Features.Cache.Enabled {
		redisCache = cache.New(cfg.Features.Cache.URL)
	}

	metrics, registry := observability.NewMetrics()

	var publisher *bus.Publisher
	var outboxPump *bus.OutboxPump
	if cfg.Features.Messaging.Enabled && cfg.Features.Messaging.URL != "" {
		publisher = bus.NewPublisher([]string{cfg.Features.Messaging.URL})
		defer publisher.Close()
		outboxPump = bus.NewOutboxPump(outbox, publisher, 2*time.Second, cfg.Features.Messaging.OutboxLimit)
	}

	var indexer *search.Indexer
	if cfg.Features.Search.Enabled && cfg.Features.Search.URL != "" {
		indexer, err = search.NewIndexer([]string{cfg.Features.Search.URL}, cfg.Features.Search.APIKey,
			cfg.Features.Search.BatchSize, cfg.Features.Search.BatchTimeoutMs, metrics)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to construct search indexer")
		}
	}

	hub := realtime.NewHub(realtime.HubConfig{
		HeartbeatInterval: cfg.Features.Notifications.HeartbeatInterval,
		ConnectionTimeout: cfg.Features.Notifications.ConnectionTimeout,
		BufferHighWater:   cfg.Features.Notifications.BufferHighWater,
	}, metrics)
	hubStop := make(chan struct{})
	go hub.Run(hubStop)

	membership := func(ctx context.Context, userID ids.UserId) ([]ids.ChatId, error) {
		summaries, err := chats.ListUserChats(ctx, userID)
		if err != nil {
			return nil, err
		}
		out := make([]ids.ChatId, len(summaries))
		for i, s := range summaries {
			out[i] = s.Chat.ID
		}
		return out, nil
	}
	replay := func(ctx context.Context, chatID ids.ChatId, lastEventID string) ([]realtime.Event, error) {
		n, err := strconv.ParseInt(lastEventID, 10, 64)
		if err != nil {
			return nil, nil
		}
		msgs, err := messages.ListByChat(ctx, chatID, ids.MessageId(n), 1000)
		if err != nil {
			return nil, err
		}
		events := make([]realtime.Event, 0, len(msgs))
		for i := range msgs {
			events = append(events, realtime.Event{
				ID: msgs[i].ID.String(), Type: "new_message", ChatID: chatID, Payload: msgs[i],
			})
		}
		return events, nil
	}
	realtimeSrv := realtime.NewServer(hub, membership, replay)

	mw := httpapi.NewMiddleware(authSvc, chats, redisCache, cfg.Server.RequestTimeoutMs)

	var rateLimiter *httpapi.RateLimiter
	if cfg.Features.RateLimiting.Enabled {
		rateLimiter = httpapi.NewRateLimiter(cfg.Features.RateLimiting.RequestsPerMinute, cfg.Features.RateLimiting.RequestsPerMinute/4+1)
	}

	server := httpapi.NewServer(httpapi.Deps{
		Middleware: mw, Auth: authSvc, Users: users, Chats: chats, Messages: messages,
		Cache: redisCache, Publisher: publisher, Search: indexer, Realtime: realtimeSrv, Metrics: metrics,
	})

	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	var outboxStopped chan struct{}
	if publisher != nil {
		outboxStopped = make(chan struct{})
		go func() {
			outboxPump.Run(consumerCtx)
			close(outboxStopped)
		}()
		go reportOutboxBacklog(consumerCtx, outbox, metrics)
		startBridgeConsumers(consumerCtx, cfg, hub, indexer)
	}

	mux := http.NewServeMux()
	mux.Handle("/", server.Routes(httpapi.RouterConfig{Middleware: mw, RateLimiter: rateLimiter}))
	mux.Handle("/metrics", observability.Handler(registry))

	httpAddr := env("HTTP_ADDR", ":8080")
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	// Push the terminal SSE event before draining the HTTP server so each
	// session's write loop has a chance to flush it and return on its own,
	// rather than just getting cut when the grace period expires.
	hub.Shutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	close(hubStop)
	cancelConsumers()
	if outboxStopped != nil {
		<-outboxStopped
	}

	log.Info().Msg("server stopped")
}

func reportOutboxBacklog(ctx context.Context, outbox *store.OutboxRepo, metrics *observability.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := outbox.Backlog(ctx)
			if err != nil {
				continue
			}
			metrics.OutboxBacklog.Set(float64(n))
		}
	}
}
