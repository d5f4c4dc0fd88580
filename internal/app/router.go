package app

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"edulearn_backend/internal/middleware"
	"edulearn_backend/pkg/monitoring"
	"edulearn_backend/pkg/security"
	"edulearn_backend/pkg/tracing"
)

func (a *App) setupRouter() *gin.Engine {
	if a.Config.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(security.CORS(a.Config.CORS))
	r.Use(security.Secure())
	r.Use(monitoring.MetricsMiddleware())
	if a.Config.Tracing.Enabled {
		r.Use(tracing.GinMiddleware())
	}
	if a.Config.RateLimit.MaxRequests > 0 {
		r.Use(security.RateLimiter(a.Config.RateLimit))
	}

	r.GET("/health", a.healthController.Health)
	r.GET("/metrics", monitoring.PrometheusHandler())
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api")
	api.Use(middleware.ServiceKeyAuth(a.Config.Auth.APIKeyHash))
	{
		attempts := api.Group("/attempts")
		{
			attempts.POST("", a.attemptController.Create)
			attempts.POST("/start-or-get", a.attemptController.StartOrGet)
			attempts.GET("/:id", a.attemptController.Get)
			attempts.POST("/:id/answers", a.attemptController.SubmitAnswers)
			attempts.POST("/:id/finish", a.attemptController.Finish)
			attempts.POST("/:id/cancel", a.attemptController.Cancel)
			attempts.POST("/:id/deadline-expired", a.attemptController.DeadlineExpired)
		}
		api.GET("/users/:id/attempts", a.attemptController.ListByUser)

		learning := api.Group("/learning")
		{
			learning.GET("/next-item", a.learningController.NextItem)
			learning.GET("/tasks/:id/state", a.learningController.TaskState)
			learning.GET("/courses/:id/state", a.learningController.CourseState)
			learning.POST("/materials/:id/complete", a.learningController.CompleteMaterial)
			learning.POST("/events", a.learningController.RecordEvent)
		}

		teacher := api.Group("/teacher")
		{
			teacher.POST("/queue/claim", a.teacherController.Claim)
			teacher.POST("/queue/release", a.teacherController.Release)
			teacher.POST("/reviews/:id/finalize", a.teacherController.FinalizeReview)
			teacher.GET("/workload", a.teacherController.Workload)
			teacher.POST("/limit-overrides", a.teacherController.SetLimitOverride)
		}

		help := api.Group("/help-requests")
		{
			help.GET("", a.helpController.List)
			help.GET("/:id", a.helpController.Detail)
			help.POST("/:id/close", a.helpController.Close)
			help.POST("/:id/reply", a.helpController.Reply)
		}

		materials := api.Group("/materials")
		{
			materials.POST("/:id/content", a.materialController.UploadContent)
			materials.GET("/:id/content", a.materialController.ContentURL)
		}
	}

	return r
}
