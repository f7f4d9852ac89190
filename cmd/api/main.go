package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"account-api/internal/config"
	"account-api/internal/db"
	"account-api/internal/email"
	apihttp "account-api/internal/http"
	"account-api/internal/repository"
	"account-api/internal/service"
	"account-api/internal/storage"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	userRepo := repository.NewPgUserRepository(pool)

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	var blobs storage.BlobStore
	if cfg.S3Bucket != "" {
		s3Store, err := storage.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			logger.Fatal("s3 store init failed", zap.Error(err))
		}
		blobs = s3Store
	} else {
		localStore, err := storage.NewLocalStore(cfg.UploadDir)
		if err != nil {
			logger.Fatal("local store init failed", zap.Error(err))
		}
		blobs = localStore
	}

	sessionTokens := service.NewSessionTokenService(cfg.JWTSecret, 0)
	accountSvc := service.NewAccountService(logger, userRepo, emailSender, blobs, cfg.ClientURL)
	authHandler := apihttp.NewAuthHandler(logger, accountSvc, sessionTokens, cfg.IsProduction())
	router := apihttp.NewRouter(logger, authHandler, sessionTokens)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
