package main

import (
	"context"
	"errors"
	"time"

	"marketplace-inbox/config"
	"marketplace-inbox/internal/handler"
	inboxredis "marketplace-inbox/internal/redis"
	"marketplace-inbox/internal/server"
	"marketplace-inbox/internal/services"
	"marketplace-inbox/internal/websocket"
	"marketplace-inbox/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	rdb := inboxredis.NewClient(inboxredis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := inboxredis.Ping(context.Background(), rdb, 5*time.Second); err != nil {
		// the badge mirror and the UI fan-out degrade; sessions still work
		l.Logger.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisHost+":"+cfg.RedisPort), zap.Error(err))
	}

	publisher := inboxredis.NewPublisher(rdb)
	badges := inboxredis.NewBadgeStore(rdb)
	limiter := inboxredis.NewRateLimiter(rdb, inboxredis.RateLimitConfig{
		MessageLimit:  cfg.MessageRateLimit,
		MessageWindow: cfg.MessageRateWindow,
	})

	auth := services.NewAuthService(cfg)
	sessions := services.NewInboxService(services.InboxServiceOptions{
		Upstream:          services.NewMarketplaceUpstream(cfg, l),
		Mirror:            badges,
		Badges:            badges,
		Quota:             limiter,
		Notifier:          publisher,
		PlaceholderAvatar: cfg.PlaceholderAvatarURL,
		CallTimeout:       cfg.UpstreamTimeout,
		Logger:            l,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := websocket.NewHub()
	go hub.Run(ctx)

	bridge := websocket.NewRedisBridge(inboxredis.NewSubscriber(rdb), hub)
	go runBridge(ctx, bridge, l)

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Session: handler.NewSessionHandler(sessions),
		Inbox:   handler.NewInboxHandler(sessions),
		Stream:  websocket.NewHandler(hub, sessions, l),
	}, server.Deps{
		Auth:    auth,
		Limiter: limiter,
		Redis:   rdb,
	})

	if err := srv.Start(); err != nil {
		l.Errorf("server stopped with error: %s", err)
	}

	sessions.Shutdown()
	cancel()
}

// runBridge keeps the redis bridge subscribed, resubscribing after failures.
func runBridge(ctx context.Context, bridge *websocket.RedisBridge, l *logger.Logger) {
	for {
		err := bridge.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Logger.Warn("redis bridge stopped, resubscribing", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
