package routes

import (
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tunekit/backend/internal/controllers"
	"github.com/tunekit/backend/internal/middleware"
	"github.com/tunekit/backend/internal/runtime"
	"github.com/tunekit/backend/internal/services"
	"github.com/tunekit/backend/internal/store"
)

// App bundles the long-lived services so main can shut them down.
type App struct {
	Runner   *services.JobRunner
	Progress *services.ProgressReporter
	Ollama   *services.OllamaService
}

// SetupRoutes wires services, controllers and route groups.
func SetupRoutes(r *gin.Engine, db *gorm.DB) *App {
	st := store.New(db)

	ollamaService := services.NewOllamaService(os.Getenv("OLLAMA_URL"))
	localRuntime := runtime.NewProcessRuntime()
	acceleratedRuntime := runtime.NewAccelerated()

	modelCache := services.NewModelCache(localRuntime)
	dispatcher := services.NewDispatcher(ollamaService, modelCache, localRuntime, acceleratedRuntime)
	progress := services.NewProgressReporter(st)
	trainer := services.NewProcessTrainer()
	runner := services.NewJobRunner(st, trainer, progress, modelCache, os.Getenv("MODEL_OUTPUT_DIR"))
	chatService := services.NewChatService(st, dispatcher, ollamaService, modelCache)
	datasetService := services.NewDatasetService(st)

	authController := controllers.NewAuthController(db)
	trainingController := controllers.NewTrainingController(runner)
	chatController := controllers.NewChatController(chatService, runner)
	datasetController := controllers.NewDatasetController(datasetService)
	modelController := controllers.NewModelController(ollamaService)

	api := r.Group("/api/v1")
	{
		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/login", authController.Login)
			auth.POST("/register", authController.Register)
			auth.POST("/refresh", authController.RefreshToken)
		}

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware())
		{
			// Datasets
			datasets := protected.Group("/datasets")
			{
				datasets.POST("", datasetController.CreateDataset)
				datasets.GET("", datasetController.ListDatasets)
				datasets.GET("/:id", datasetController.GetDataset)
				datasets.DELETE("/:id", datasetController.DeleteDataset)
			}

			// Training jobs
			training := protected.Group("/training")
			{
				training.POST("/jobs", trainingController.CreateJob)
				training.GET("/jobs", trainingController.ListJobs)
				training.GET("/jobs/:id", trainingController.GetJob)
				training.GET("/jobs/:id/progress", trainingController.GetProgress)
				training.POST("/jobs/:id/cancel", trainingController.CancelJob)
				training.DELETE("/jobs/:id", trainingController.DeleteJob)
			}

			// Chat
			chat := protected.Group("/chat")
			{
				chat.POST("/sessions", chatController.CreateSession)
				chat.GET("/sessions", chatController.ListSessions)
				chat.GET("/sessions/:id", chatController.GetSession)
				chat.DELETE("/sessions/:id", chatController.DeleteSession)
				chat.GET("/sessions/:id/messages", chatController.ListMessages)
				chat.POST("/sessions/:id/generate", chatController.Generate)
				chat.GET("/completed-jobs", chatController.ListCompletedJobs)
			}

			// Models
			modelsGroup := protected.Group("/models")
			{
				modelsGroup.GET("", modelController.ListModels)
				modelsGroup.GET("/:name/check", modelController.CheckModel)
				modelsGroup.POST("/pull", modelController.PullModel)
				modelsGroup.GET("/ollama/health", modelController.OllamaHealth)
			}
		}
	}

	return &App{Runner: runner, Progress: progress, Ollama: ollamaService}
}
