// 手动触发超时会话清扫脚本
//
// 截止处理通常由 LMS 调用 /api/attempts/:id/deadline-expired 完成。
// 此脚本用于兜底：扫描所有未结束且已超过时限的会话并逐个关闭，
// 例如上游回调丢失或停机恢复后。
//
// 用法: go run scripts/expire_deadlines.go

package main

import (
	"log"
	"time"

	"edulearn_backend/internal/config"
	"edulearn_backend/internal/repository"
	"edulearn_backend/internal/service"
	"edulearn_backend/pkg/database"
	"edulearn_backend/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	materialRepo := repository.NewMaterialRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	resultRepo := repository.NewTaskResultRepository(db)
	eventRepo := repository.NewLearningEventRepository(db)
	helpRepo := repository.NewHelpRequestRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	overrideRepo := repository.NewLimitOverrideRepository(db)

	engine := service.NewLearningEngineService(
		taskRepo, materialRepo, courseRepo, resultRepo, attemptRepo,
		overrideRepo, eventRepo, userRepo,
		db, nil, 0, cfg.Engine.DefaultMaxAttempts,
	)
	helpSvc := service.NewHelpRequestService(helpRepo, messageRepo, userRepo, courseRepo, taskRepo, db)
	attempts := service.NewAttemptService(
		attemptRepo, resultRepo, taskRepo, eventRepo,
		engine, helpSvc, service.NewRuleChecker(), db,
	)

	open, err := attemptRepo.ListOpen()
	if err != nil {
		log.Fatalf("查询未结束会话失败: %v", err)
	}

	now := time.Now()
	closed := 0
	for i := range open {
		attempt := &open[i]
		meta, err := attempt.DecodeMeta()
		if err != nil {
			log.Printf("会话 %d meta 解析失败，跳过: %v", attempt.ID, err)
			continue
		}
		if meta.TimeLimitSeconds <= 0 {
			continue
		}
		deadline := attempt.CreatedAt.Add(time.Duration(meta.TimeLimitSeconds) * time.Second)
		if now.Before(deadline) {
			continue
		}
		if _, err := attempts.DeadlineExpired(attempt.ID); err != nil {
			log.Printf("会话 %d 关闭失败: %v", attempt.ID, err)
			continue
		}
		closed++
	}

	log.Printf("扫描 %d 个未结束会话，关闭 %d 个超时会话", len(open), closed)
}
