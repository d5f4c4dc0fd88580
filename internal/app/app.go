package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_backend/internal/config"
	"edulearn_backend/internal/controller"
	"edulearn_backend/internal/repository"
	"edulearn_backend/internal/service"
	"edulearn_backend/pkg/database"
	"edulearn_backend/pkg/logger"
	"edulearn_backend/pkg/monitoring"
	"edulearn_backend/pkg/tracing"
)

type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Router *gin.Engine

	// repositories
	userRepo     *repository.UserRepository
	courseRepo   *repository.CourseRepository
	taskRepo     *repository.TaskRepository
	materialRepo *repository.MaterialRepository
	attemptRepo  *repository.AttemptRepository
	resultRepo   *repository.TaskResultRepository
	eventRepo    *repository.LearningEventRepository
	helpRepo     *repository.HelpRequestRepository
	messageRepo  *repository.MessageRepository
	overrideRepo *repository.LimitOverrideRepository

	// services
	engineService  *service.LearningEngineService
	attemptService *service.AttemptService
	eventService   *service.LearningEventService
	helpService    *service.HelpRequestService
	queueService   *service.TeacherQueueService
	storageService *service.StorageService

	// controllers
	attemptController  *controller.AttemptController
	learningController *controller.LearningController
	teacherController  *controller.TeacherController
	helpController     *controller.HelpRequestController
	materialController *controller.MaterialController
	healthController   *controller.HealthController
}

func NewApp(cfg *config.Config) (*App, error) {
	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = database.InitRedis(&cfg.Redis)
		if err != nil {
			// Redis 只承载短 TTL 缓存，连不上时降级为直读数据库
			logger.Log.Warn("redis unavailable, state cache disabled", zap.Error(err))
			rdb = nil
		}
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	if err := app.initServices(); err != nil {
		return nil, err
	}
	app.initControllers()

	monitoring.Init()

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer("learning-engine", cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Warn("tracing init failed", zap.Error(err))
		}
	}

	app.Router = app.setupRouter()
	return app, nil
}

func (a *App) initServices() error {
	a.userRepo = repository.NewUserRepository(a.DB)
	a.courseRepo = repository.NewCourseRepository(a.DB)
	a.taskRepo = repository.NewTaskRepository(a.DB)
	a.materialRepo = repository.NewMaterialRepository(a.DB)
	a.attemptRepo = repository.NewAttemptRepository(a.DB)
	a.resultRepo = repository.NewTaskResultRepository(a.DB)
	a.eventRepo = repository.NewLearningEventRepository(a.DB)
	a.helpRepo = repository.NewHelpRequestRepository(a.DB)
	a.messageRepo = repository.NewMessageRepository(a.DB)
	a.overrideRepo = repository.NewLimitOverrideRepository(a.DB)

	a.engineService = service.NewLearningEngineService(
		a.taskRepo, a.materialRepo, a.courseRepo, a.resultRepo, a.attemptRepo,
		a.overrideRepo, a.eventRepo, a.userRepo,
		a.DB, a.Redis, a.Config.Engine.StateCacheTTL, a.Config.Engine.DefaultMaxAttempts,
	)
	a.eventService = service.NewLearningEventService(a.eventRepo, a.DB, a.Config.Engine.DedupWindow)
	a.helpService = service.NewHelpRequestService(a.helpRepo, a.messageRepo, a.userRepo, a.courseRepo, a.taskRepo, a.DB)
	a.attemptService = service.NewAttemptService(
		a.attemptRepo, a.resultRepo, a.taskRepo, a.eventRepo,
		a.engineService, a.helpService, service.NewRuleChecker(), a.DB,
	)
	a.queueService = service.NewTeacherQueueService(a.helpRepo, a.resultRepo, a.userRepo, a.DB, a.Config.Engine.ClaimTTL)

	storage, err := service.NewStorageService(a.Config.Storage)
	if err != nil {
		return err
	}
	a.storageService = storage
	return nil
}

func (a *App) initControllers() {
	a.attemptController = controller.NewAttemptController(a.attemptService)
	a.learningController = controller.NewLearningController(a.engineService, a.eventService, a.helpService)
	a.teacherController = controller.NewTeacherController(a.queueService, a.engineService)
	a.helpController = controller.NewHelpRequestController(a.helpService)
	a.materialController = controller.NewMaterialController(a.materialRepo, a.storageService)
	a.healthController = controller.NewHealthController(a.DB)
}

// Run 启动 HTTP 服务并处理优雅退出
func (a *App) Run() error {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		logger.Log.Info("server starting", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
