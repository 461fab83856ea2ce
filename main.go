package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"chat-sync/internal/chat"
	"chat-sync/internal/config"
	"chat-sync/internal/events"
	"chat-sync/internal/handlers"
	"chat-sync/internal/httpcache"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/outbox"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/repositories"
	"chat-sync/internal/restriction"
	"chat-sync/internal/rpc"
	"chat-sync/internal/store"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/timeline"
	"chat-sync/internal/ws"
)

const serviceName = "chat-sync"

func main() {
	log, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(log)
	cfg, err := config.Load()
	if err != nil {
		log.Sugar().Fatal("init config error:", err)
	}
	if !cfg.Log.Development {
		if log, err = zap.NewProduction(); err != nil {
			panic(err)
		}
		zap.ReplaceGlobals(log)
	}
	defer log.Sync()
	sugar := log.Sugar()

	if err := cfg.Validate(); err != nil {
		sugar.Fatal("invalid config: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTel.Endpoint, serviceName)
	if err != nil {
		sugar.Fatal("init tracing error: ", err)
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(c); err != nil {
			sugar.Warnw("tracing shutdown", "error", err)
		}
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	sugar.Infow("telemetry publisher", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))

	db, err := store.Open(ctx, store.Options{
		Driver:      cfg.Store.Driver,
		DSN:         cfg.Store.DSN,
		RedisAddr:   cfg.Store.RedisAddr,
		RedisPrefix: serviceName + ":" + cfg.UserID,
	})
	if err != nil {
		sugar.Fatal("failed to open store: ", err)
	}
	defer db.Close()

	client, err := rpc.NewClient(cfg.APIOrigin, cfg.APIToken, nil)
	if err != nil {
		sugar.Fatal("invalid api origin: ", err)
	}

	bus := events.NewBus()
	emitter := telemetry.NewEmitter(publisher, "client_events."+serviceName, serviceName, environment(cfg), cfg.UserID)
	emitter.Attach(bus)
	defer emitter.Close()

	queue := outbox.NewQueue(repositories.NewOutboxRepo(db), bus)
	resources := httpcache.New(repositories.NewHTTPCacheRepo(db, store.HTTPCache), client, httpcache.WithTTL(cfg.Cache.TTL), httpcache.WithTier(string(store.HTTPCache)))
	meta := httpcache.New(repositories.NewHTTPCacheRepo(db, store.MetaCache), client, httpcache.WithTTL(cfg.Cache.TTL), httpcache.WithTier(string(store.MetaCache)))
	icons := httpcache.New(repositories.NewHTTPCacheRepo(db, store.IconCache), client, httpcache.WithTTL(cfg.Cache.TTL), httpcache.WithTier(string(store.IconCache)))
	dir := chat.NewDirectory(resources, meta, icons, client)

	monitor := restriction.NewMonitor(client, bus)
	defer monitor.Close()
	monitor.Load(ctx, cfg.UserID)

	surface := chat.NewSurface(chat.Deps{
		Backend:      client,
		Cache:        repositories.NewMessageCacheRepo(db),
		Outbox:       queue,
		Bus:          bus,
		Clock:        timeline.NewClock(),
		WebsocketURL: client.WebsocketURL(),
		Token:        client.Token(),
	}, dir, chat.SurfaceConfig{
		UserID:    cfg.UserID,
		Shards:    cfg.Shards,
		AllShards: cfg.Global.AllShards,
	})
	defer surface.Close()

	hub := ws.NewHub()
	hub.Attach(surface, bus)
	defer hub.Close()

	go func() {
		if _, err := surface.Bind(ctx, chat.Binding{Kind: chat.SurfaceGlobal}); err != nil {
			sugar.Warnw("initial global bind", "error", err)
		}
	}()

	chatHandler := handlers.NewChatHandler(surface, dir, monitor, bus, cfg.Shards)
	uiWS := ws.NewUIHandler(hub, surface)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// middlewares
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(handlers.RequestID())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/", middleware.AuthMiddleware(cfg.LocalToken))
	api.GET("/chats", chatHandler.ListChats)
	api.GET("/shards/:user_id", chatHandler.GetShard)
	api.POST("/surface", chatHandler.Bind)
	api.POST("/conversations/open", chatHandler.OpenConversation)
	api.GET("/surface/messages", chatHandler.GetMessages)
	api.POST("/surface/older", chatHandler.LoadOlder)
	api.POST("/surface/messages", chatHandler.PostMessage)
	api.GET("/restriction", chatHandler.GetRestriction)
	api.GET("/players/:id", chatHandler.GetPlayer)
	api.GET("/icons", chatHandler.GetIcon)
	api.GET("/ws", uiWS.Handle)
	handlers.RegisterDebugRoutes(api, queue, cfg.Log.Development)

	srv := &http.Server{Addr: cfg.Listen, Handler: router}
	go func() {
		sugar.Info("Start:", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatal("ListenAndServe: ", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("server shutdown", "error", err)
	}
	resources.Wait()
	meta.Wait()
	icons.Wait()
}

func environment(cfg config.Config) string {
	if cfg.Log.Development {
		return "development"
	}
	return "production"
}
