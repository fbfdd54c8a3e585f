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

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"whatsapp-inbox/internal/config"
	"whatsapp-inbox/internal/db"
	grpcclient "whatsapp-inbox/internal/grpc"
	"whatsapp-inbox/internal/handlers"
	"whatsapp-inbox/internal/logging"
	"whatsapp-inbox/internal/middleware"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/observability"
	"whatsapp-inbox/internal/rabbitmq"
	"whatsapp-inbox/internal/repositories"
	"whatsapp-inbox/internal/telemetry"
	"whatsapp-inbox/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.Log.Level)
	if err != nil {
		fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Service, cfg.Tracing.Endpoint, logger)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	database, err := db.Connect(ctx, cfg.DB.DSN, logger)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)),
	)
	emitter := telemetry.NewEmitter(publisher, cfg.Service, cfg.Env, logger, observability.IncAMQPPublishError)

	validator, closeValidator, err := buildValidator(cfg, logger)
	if err != nil {
		logger.Fatal("failed to set up auth", zap.Error(err))
	}
	defer closeValidator()

	messageRepo := repositories.NewMessageRepo(database)
	hub := ws.NewHub(emitter, logger)

	messageHandler := handlers.NewMessageHandler(messageRepo, hub, emitter, logger)
	conversationWS := ws.NewConversationWebSocketHandler(hub, validator, logger)

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Service))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(handlers.RequestID())

	authMiddleware := middleware.AuthMiddleware(validator)
	staffOnly := middleware.RequireRole(models.RoleAdmin, models.RoleGerente)

	router.GET("/api/whatsapp/messages", authMiddleware, messageHandler.ListMessages)
	router.POST("/api/whatsapp/messages", authMiddleware, messageHandler.PostMessage)
	router.POST("/api/whatsapp/messages/:message_id/ack", authMiddleware, staffOnly, messageHandler.AckMessage)
	router.GET("/api/whatsapp/conversations", authMiddleware, messageHandler.ListConversations)

	router.GET("/ws/whatsapp/:conversation_key", conversationWS.Handle)

	handlers.RegisterOpsRoutes(router, emitter, cfg.Debug)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}

// buildValidator prefers the auth service when its address is configured and
// falls back to the static token table.
func buildValidator(cfg *config.Config, logger *zap.Logger) (middleware.TokenValidator, func(), error) {
	if cfg.Auth.GRPCAddr != "" {
		client, err := grpcclient.Dial(cfg.Auth.GRPCAddr)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("token validation via auth service", zap.String("addr", cfg.Auth.GRPCAddr))
		return client, func() { _ = client.Close() }, nil
	}

	static := make(middleware.StaticValidator, len(cfg.Auth.Tokens))
	for token, id := range cfg.Auth.Tokens {
		static[token] = models.Identity{UserID: id.UserID, Role: id.Role}
	}
	if len(static) == 0 {
		logger.Warn("no auth tokens configured; every authenticated route will reject requests")
	}
	return static, func() {}, nil
}

// fatalf reports errors raised before the zap logger exists.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
