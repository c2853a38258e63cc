package main

import (
	"context"
	"fmt"
	"log"

	"skyvault/config"
	"skyvault/database"
	"skyvault/handlers"
	"skyvault/logger"
	"skyvault/middleware"
	"skyvault/models"
	"skyvault/repositories"
	"skyvault/services"
	"skyvault/storage"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
)

func main() {
	log.Println("starting skyvault service")

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	logger.SetLevel(cfg.Log.Level)

	if err := database.InitMySQL(&cfg.Database); err != nil {
		log.Fatalf("init mysql failed: %v", err)
	}

	database.DB.AutoMigrate(
		&models.File{},
		&models.ActivityLog{},
	)
	log.Println("database migration completed")

	if err := database.InitRedis(&cfg.Redis); err != nil {
		log.Fatalf("init redis failed: %v", err)
	}

	blobs, err := buildBlobStore(cfg)
	if err != nil {
		log.Fatalf("init blob store failed: %v", err)
	}

	repoContainer := repositories.NewGormRepositories(database.DB, database.RedisClient).BuildContainer()
	serviceContainer := services.NewContainer(repoContainer, blobs, nil)
	handlers.SetServices(serviceContainer)

	go serviceContainer.Cleanup.Run(context.Background())
	log.Println("cleanup worker started")

	r := gin.Default()
	r.Use(middleware.RequestLogger())
	setupRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("server listening on http://%s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server start failed: %v", err)
	}
}

func buildBlobStore(cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Storage.S3Region))
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(s3.NewFromConfig(awsCfg), cfg.Storage.S3Bucket, cfg.Storage.S3Prefix), nil
	default:
		return storage.NewDiskStore(cfg.Storage.BasePath)
	}
}

func setupRoutes(r *gin.Engine) {
	api := r.Group("/api")

	api.GET("/health", handlers.HealthCheck)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware())
	{
		protected.POST("/files/upload", handlers.UploadFile)
		protected.POST("/files/upload/chunk", handlers.UploadChunk)
		protected.POST("/files/upload/complete", handlers.CompleteUpload)
		protected.GET("/files/upload/status/:file_id", handlers.GetUploadStatus)
		protected.DELETE("/files/upload/:file_id", handlers.CancelUpload)
	}
}
