package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"learnhub/config"
	"learnhub/internal/api"
	"learnhub/internal/broker"
	"learnhub/internal/catalog"
	"learnhub/internal/mailer"
	"learnhub/internal/redisclient"
	"learnhub/internal/service"
	"learnhub/internal/store"
	"learnhub/internal/util"
	"learnhub/internal/vnpay"
	"learnhub/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting learnhub service")

	tp, err := util.InitTracer("learnhub", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	vnpayClient := vnpay.New(cfg.VNPay.TmnCode, cfg.VNPay.Secret, cfg.VNPay.Host)

	cacheTTL := time.Duration(cfg.Business.CourseCacheSeconds) * time.Second
	catalogService := catalog.NewService(db, redisClient, cacheTTL)
	checkoutService := service.NewCheckoutService(db, vnpayClient, cfg.VNPay.ReturnURL, cfg.VNPay.BankCode)
	reconcileService := service.NewReconcileService(db, vnpayClient, eventPublisher, cfg.VNPay.FrontendReturnURL)
	enrollmentService := service.NewEnrollmentService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var sender mailer.Sender
	if smtpSender, err := mailer.NewSMTPSender(cfg.SMTP); err != nil {
		log.Printf("Email disabled: %v", err)
	} else {
		sender = smtpSender
	}

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, db, sender)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	orderTimeout := time.Duration(cfg.Business.OrderTimeoutSeconds) * time.Second
	reaperWorker := worker.NewReaperWorker(db, eventPublisher, orderTimeout)
	go func() {
		if err := reaperWorker.Start(workerCtx); err != nil {
			log.Printf("Reaper worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(checkoutService, reconcileService, enrollmentService, catalogService, cfg.Auth.JWTSecret)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	notificationWorker.Stop()

	log.Println("Server exited")
}
