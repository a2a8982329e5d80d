package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/bookshop/pkg/config"
	"github.com/example/bookshop/pkg/discovery"
	"github.com/example/bookshop/pkg/mailer"
	"github.com/example/bookshop/pkg/payments"
	"github.com/example/bookshop/pkg/repository"
	"github.com/example/bookshop/server"
	"go.uber.org/zap"
)

func main() {
	// Load config; missing required secrets abort here.
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Setup logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting bookshop backend",
		zap.String("name", cfg.Server.Name),
		zap.Int("port", cfg.Server.Port))

	// Connect primary store before accepting traffic
	db, err := repository.OpenMySQL(&cfg.MySQL)
	if err != nil {
		logger.Fatal("Failed to connect to MySQL", zap.Error(err))
	}
	orderRepo := repository.NewOrderRepository(db)
	newsletterRepo := repository.NewNewsletterRepository(db)

	// Dead-letter / audit store
	mongoRepo, err := repository.NewMongoRepository(&cfg.MongoDB)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}

	// Session cache
	redisRepo := repository.NewRedisRepository(&cfg.Redis)

	ctx := context.Background()
	if err := redisRepo.Ping(ctx); err != nil {
		logger.Warn("Redis connection failed", zap.Error(err))
	} else {
		logger.Info("Redis connected successfully")
	}
	if err := mongoRepo.Ping(ctx); err != nil {
		logger.Warn("MongoDB ping failed", zap.Error(err))
	}

	// Mail actor
	system := actor.NewActorSystem()
	mail := mailer.NewMailer(&cfg.SMTP, cfg.Admin.Email, logger)
	notifier, err := mailer.NewNotifier(system, mail, logger)
	if err != nil {
		logger.Fatal("Failed to start mail actor", zap.Error(err))
	}

	// Stripe client
	stripeClient := payments.NewClient(&cfg.Stripe, logger)

	// Optional instance registration
	var reg *discovery.Registry
	if len(cfg.Etcd.Endpoints) > 0 {
		reg, err = discovery.NewRegistry(&cfg.Etcd)
		if err != nil {
			logger.Warn("Failed to connect to etcd, continuing without registration", zap.Error(err))
		} else if err := reg.Register(ctx, cfg.Server.Name, cfg.Server.Host, cfg.Server.Port); err != nil {
			logger.Warn("Failed to register instance", zap.Error(err))
		} else {
			logger.Info("Instance registered in etcd",
				zap.String("name", cfg.Server.Name),
				zap.String("address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)))
		}
	}

	// Create server
	srv := server.NewServer(cfg, logger, stripeClient, orderRepo, newsletterRepo, redisRepo, mongoRepo, notifier)
	srv.SetupRoutes()

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErr <- err
		}
	}()

	logger.Info("Server started successfully")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case err := <-serverErr:
		logger.Fatal("Server error", zap.Error(err))
	}

	if reg != nil {
		if err := reg.Deregister(ctx, cfg.Server.Name, cfg.Server.Host, cfg.Server.Port); err != nil {
			logger.Error("Failed to deregister instance", zap.Error(err))
		}
		reg.Close()
	}

	notifier.Stop()
	redisRepo.Close()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mongoRepo.Close(closeCtx); err != nil {
		logger.Error("Failed to close MongoDB", zap.Error(err))
	}

	logger.Info("Server stopped")
}
