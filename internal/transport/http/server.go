package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"classcare-chatbot/internal/ai"
	appsvc "classcare-chatbot/internal/app"
	"classcare-chatbot/internal/bootstrap"
	"classcare-chatbot/internal/cache"
	rabbitmqClient "classcare-chatbot/internal/platform/rabbitmq"
	"classcare-chatbot/internal/repository"
	"classcare-chatbot/internal/transport/http/handler"
	"classcare-chatbot/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = app.Config.Upload.MaxSizeBytes

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	sessionRepo := repository.NewSessionRepository(app.MySQL)
	messageRepo := repository.NewMessageRepository(app.MySQL)
	documentRepo := repository.NewDocumentRepository(app.MySQL)

	messagePublisher := rabbitmqClient.NewMessagePublisher(app.MQConn, app.Config.RabbitMQ.MessagePersistQueue)
	ingestPublisher := rabbitmqClient.NewIngestJobPublisher(app.MQConn, app.Config.RabbitMQ.DocumentIngestQueue)
	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)

	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	chatService := appsvc.NewChatService(
		sessionRepo,
		messageRepo,
		messagePublisher,
		historyCache,
		app.VectorStore,
		ai.ChatConfig{
			BaseURL:     app.Config.LLM.BaseURL,
			APIKey:      app.Config.LLM.APIKey,
			Model:       app.Config.LLM.Model,
			Temperature: app.Config.LLM.Temperature,
		},
		ai.EmbeddingConfig{
			BaseURL: app.Config.LLM.BaseURL,
			APIKey:  app.Config.LLM.APIKey,
			Model:   app.Config.LLM.EmbeddingModel,
		},
		app.Config.RAG.TopK,
		app.Config.RAG.MaxHistory,
	)
	documentService := appsvc.NewDocumentService(
		documentRepo,
		ingestPublisher,
		app.VectorStore,
		app.Config.Upload.Dir,
		app.Config.Upload.MaxSizeBytes,
	)

	authHandler := handler.NewAuthHandler(authService)
	chatHandler := handler.NewChatHandler(chatService)
	documentHandler := handler.NewDocumentHandler(documentService)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)

	chatGroup := v1.Group("/chat")
	chatGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	chatGroup.POST("/sessions", chatHandler.CreateSession)
	chatGroup.GET("/sessions", chatHandler.ListSessions)
	chatGroup.DELETE("/sessions/:id", chatHandler.DeleteSession)
	chatGroup.GET("/sessions/:id/messages", chatHandler.GetSessionMessages)
	chatGroup.POST("/messages", chatHandler.SendMessage)
	chatGroup.POST("/messages/stream", chatHandler.StreamMessage)

	docGroup := v1.Group("/documents")
	docGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	docGroup.POST("", documentHandler.Upload)
	docGroup.GET("", documentHandler.List)
	docGroup.GET("/:id", documentHandler.Get)
	docGroup.DELETE("/:id", documentHandler.Delete)

	return router
}
