package main

import (
	"flag"
	"log"

	_ "edulearn_backend/docs"
	"edulearn_backend/internal/app"
	"edulearn_backend/internal/config"
	"edulearn_backend/pkg/configwatcher"
	"edulearn_backend/pkg/database"
	"edulearn_backend/pkg/logger"

	"go.uber.org/zap"
)

// @title Learning Engine API
// @version 1.0
// @description 学习引擎：做题会话、状态解析、选路、教师队列与事件账本
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func main() {
	migrateOnly := flag.Bool("migrate-only", false, "run database migration and exit")
	configPath := flag.String("config", "configs", "config directory")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.MigrateOnly = *migrateOnly

	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	if cfg.MigrateOnly {
		db, err := database.InitDB(&cfg.Database)
		if err != nil {
			logger.Log.Fatal("migration failed", zap.Error(err))
		}
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		logger.Log.Info("migration completed")
		return
	}

	application, err := app.NewApp(cfg)
	if err != nil {
		logger.Log.Fatal("failed to initialize app", zap.Error(err))
	}

	go configwatcher.WatchConfig(*configPath+"/config.yaml", cfg, func(newCfg interface{}) {
		logger.Log.Info("config reloaded")
	})

	if err := application.Run(); err != nil {
		logger.Log.Fatal("server stopped", zap.Error(err))
	}
}
