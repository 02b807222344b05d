package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"live-session/internal/config"
	"live-session/internal/db"
	"live-session/internal/handlers"
	"live-session/internal/logging"
	"live-session/internal/middleware"
	"live-session/internal/observability"
	"live-session/internal/rabbitmq"
	"live-session/internal/repositories"
	"live-session/internal/telemetry"
	"live-session/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogDevelopment, cfg.ServiceName)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	database, err := db.Connect(cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	eventsPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.EventsExchange, logger)
	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AuditExchange, logger)
	mediaPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.MediaExchange, logger)
	defer eventsPublisher.Close()
	defer auditPublisher.Close()
	defer mediaPublisher.Close()
	observability.SetPublisher(eventsPublisher)
	logger.Info("publishers ready",
		zap.String("events", rabbitmq.PublisherMode(eventsPublisher)),
		zap.String("audit", rabbitmq.PublisherMode(auditPublisher)),
		zap.String("media", rabbitmq.PublisherMode(mediaPublisher)))

	hub := ws.NewHub(logger)
	var feed ws.Broadcaster = hub
	var typingRepo repositories.TypingRepository = repositories.NewTypingRepo(database, cfg.TypingTTL)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		typingRepo = repositories.NewRedisTypingRepo(rdb, cfg.ServiceName, cfg.TypingTTL)
		relay := ws.NewRedisRelay(rdb, cfg.ServiceName, hub, logger)
		feed = relay
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error("redis relay stopped", zap.Error(err))
			}
		}()
	}

	participantRepo := repositories.NewParticipantRepo(database)
	deps := handlers.Deps{
		Messages:     repositories.NewMessageRepo(database),
		ReadStates:   repositories.NewReadStateRepo(database),
		Typing:       typingRepo,
		Participants: participantRepo,
		Invitations:  repositories.NewInvitationRepo(database),
		Feed:         feed,
		Audit:        telemetry.NewAuditEmitter(auditPublisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment, logger),
		Media:        telemetry.NewMediaSignaller(mediaPublisher, logger),
		MaxGuests:    cfg.MaxGuests,
		Logger:       logger,
	}

	messageHandler := handlers.NewMessageHandler(deps)
	typingHandler := handlers.NewTypingHandler(deps)
	guestHandler := handlers.NewGuestHandler(deps)
	feedWS := ws.NewFeedHandler(hub, participantRepo, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	handlers.RegisterDebugRoutes(router, deps.Audit, cfg.DebugRoutes)

	sessions := router.Group("/sessions/:session_id", middleware.ParticipantMiddleware())
	sessions.POST("/join", guestHandler.JoinSession)
	sessions.GET("/participants", guestHandler.ListParticipants)
	sessions.PATCH("/participants/:user_id/role", guestHandler.UpdateRole)
	sessions.GET("/messages", messageHandler.ListMessages)
	sessions.POST("/messages", messageHandler.PostMessage)
	sessions.DELETE("/messages/:message_id", messageHandler.DeleteMessage)
	sessions.GET("/read", messageHandler.GetReadState)
	sessions.POST("/read", messageHandler.MarkRead)
	sessions.GET("/typing", typingHandler.ListTyping)
	sessions.PUT("/typing", typingHandler.PutTyping)
	sessions.GET("/invitations", guestHandler.ListInvitations)
	sessions.POST("/invitations", guestHandler.CreateInvitation)
	sessions.PATCH("/invitations/:invitation_id", guestHandler.UpdateInvitation)

	router.GET("/ws/sessions/:session_id", middleware.ParticipantMiddleware(), feedWS.Handle)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		logger.Info("http server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(cfg.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen for grpc", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}
	go func() {
		logger.Info("grpc health server listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
