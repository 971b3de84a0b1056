package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"

	"sugarconnect/internal/config"
	"sugarconnect/internal/handlers"
	"sugarconnect/internal/logging"
	"sugarconnect/internal/middleware"
	"sugarconnect/internal/notify"
	"sugarconnect/internal/repositories"
	"sugarconnect/internal/services"
	"sugarconnect/pkg/blobstore"
	"sugarconnect/pkg/rabbitmq"
)

// server bundles the Fiber app with the resources it owns.
type server struct {
	app   *fiber.App
	store blobstore.Store
	mq    *rabbitmq.Client
	auth  *services.AuthService
	log   *logrus.Logger
}

func main() {
	// --- Configuration ---
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, os.Stdout)

	ctx := context.Background()
	srv, err := newServer(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize server")
	}
	defer srv.close()

	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		if err := srv.auth.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			log.WithError(err).Error("failed to seed admin account")
		}
	}

	// --- Start RabbitMQ Consumer ---
	// The consumer delivers the new-message emails published by the notifier.
	if srv.mq != nil {
		dispatcher := notify.NewEmailDispatcher(log.WithField("component", "email"))
		onError := func(tag uint64, err error) {
			log.WithError(err).WithField("delivery_tag", tag).Warn("failed to process notification")
		}
		if err := srv.mq.Consume(dispatcher.Handle, onError); err != nil {
			log.WithError(err).Error("failed to start notification consumer")
		}
	}

	// --- Start HTTP Server ---
	log.WithFields(logrus.Fields{"port": cfg.AppPort, "store": srv.store.Name()}).Info("starting server")

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.app.Listen(cfg.AppPort); err != nil {
			log.WithError(err).Fatal("server failed to start")
		}
	}()

	<-quit
	log.Info("shutting down server")
	if err := srv.app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.WithError(err).Error("error during Fiber shutdown")
	}
	log.Info("server gracefully stopped")
}

// newServer wires the store, repositories, services and handlers into a Fiber app.
func newServer(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*server, error) {
	// --- Initialize Blob Store ---
	store, err := blobstore.Open(ctx, blobstore.Config{
		Backend: cfg.StoreBackend,
		DSN:     cfg.DatabaseDSN,
		S3: blobstore.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}

	srv := &server{store: store, log: log}

	// --- Initialize Notifier ---
	var notifier notify.Notifier = notify.NewLogNotifier(log.WithField("component", "notify"))
	if cfg.RabbitMQURL != "" {
		mq, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL, Queue: cfg.NotifyQueue})
		if err != nil {
			log.WithError(err).Warn("RabbitMQ unavailable, notifications will only be logged")
		} else {
			srv.mq = mq
			notifier = notify.NewAMQPNotifier(mq)
		}
	}

	// --- Initialize Repositories ---
	userRepo := repositories.NewBlobUserRepository(store, log.WithField("component", "users"))
	messageRepo := repositories.NewBlobMessageRepository(store)
	imageRepo := repositories.NewBlobImageRepository(store)

	// --- Initialize Services ---
	policy := services.NewPolicy(services.DefaultCounterparts, cfg.MeteredRoles)
	authService := services.NewAuthService(userRepo, policy, cfg.JWTSecret, cfg.TokenTTL, cfg.SignupCredits, log)
	userService := services.NewUserService(userRepo, imageRepo, policy, cfg.AppendMaxAttempts, log)
	messageService := services.NewMessageService(userRepo, messageRepo, imageRepo, notifier, policy,
		services.MessageOptions{MaxAttempts: cfg.AppendMaxAttempts}, log.WithField("component", "messages"))
	conversationService := services.NewConversationService(userRepo, messageRepo, policy)
	srv.auth = authService

	// --- Initialize Handlers ---
	authHandler := handlers.NewAuthHandler(authService, log)
	userHandler := handlers.NewUserHandler(userService, log)
	messageHandler := handlers.NewMessageHandler(messageService, conversationService, log)
	imageHandler := handlers.NewImageHandler(imageRepo, log)

	// --- Initialize Fiber App ---
	app := fiber.New(fiber.Config{
		AppName:   "sugarconnect",
		BodyLimit: 10 * 1024 * 1024,
	})
	app.Use(logger.New())

	// --- Health Check Endpoint ---
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
			"store":  store.Name(),
			"broker": srv.mq != nil,
		})
	})

	auth := middleware.AuthRequired(authService, log)

	imageHandler.RegisterRoutes(app)
	messageHandler.RegisterRoutes(app, auth)

	apiV1 := app.Group("/api/v1")
	authHandler.RegisterRoutes(apiV1)
	protectedRoutes := apiV1.Group("", auth)
	userHandler.RegisterRoutes(protectedRoutes)

	srv.app = app
	return srv, nil
}

func (s *server) close() {
	if s.mq != nil {
		if err := s.mq.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close RabbitMQ client")
		}
	}
	if err := s.store.Close(); err != nil {
		s.log.WithError(err).Warn("failed to close store")
	}
}
