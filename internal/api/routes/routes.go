package routes

import (
	"time"

	"exchange-service/internal/adapters/kafka"
	"exchange-service/internal/adapters/storage"
	"exchange-service/internal/api/handlers"
	"exchange-service/internal/api/middleware"
	"exchange-service/internal/realtime"
	mongorepo "exchange-service/internal/repositories/mongo"
	"exchange-service/internal/repositories/postgres"
	"exchange-service/internal/services"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"

	gorillaws "github.com/gorilla/websocket"
)

type Router struct {
	engine              *gin.Engine
	wsHandler           *handlers.WSHandler
	authHandler         *handlers.AuthHandler
	tradeHandler        *handlers.TradeHandler
	messageHandler      *handlers.MessageHandler
	notificationHandler *handlers.NotificationHandler
	rateLimitMW         *middleware.RateLimitMiddleware
	authMW              *middleware.AuthMiddleware
}

type Deps struct {
	Dispatcher   *realtime.Dispatcher
	Tracker      *realtime.Tracker
	Upgrader     gorillaws.Upgrader
	RedisService *services.RedisService
	DB           *gorm.DB
	MongoDB      *mongo.Database
	Storage      *storage.MinIOClient
	Producer     *kafka.EventProducer
	JWTSecret    string
}

func NewRouter(deps Deps) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.LogApi())

	tradeRepo := postgres.NewTradeRepository(deps.DB)
	userRepo := postgres.NewUserRepository(deps.DB)
	notificationRepo := postgres.NewNotificationRepository(deps.DB)
	messageRepo := mongorepo.NewMessageRepository(deps.MongoDB)

	userService := services.NewUserService(userRepo, deps.JWTSecret)
	countsService := services.NewCountsService(tradeRepo, messageRepo, notificationRepo, deps.Tracker)
	tradeService := services.NewTradeService(tradeRepo, notificationRepo, deps.Producer)
	messageService := services.NewMessageService(messageRepo, tradeRepo, deps.Storage, deps.Producer, countsService)

	return &Router{
		engine:              engine,
		wsHandler:           handlers.NewWSHandler(deps.Dispatcher, deps.Upgrader),
		authHandler:         handlers.NewAuthHandler(userService),
		tradeHandler:        handlers.NewTradeHandler(tradeService),
		messageHandler:      handlers.NewMessageHandler(messageService),
		notificationHandler: handlers.NewNotificationHandler(notificationRepo, countsService),
		rateLimitMW:         middleware.NewRateLimitMiddleware(deps.RedisService),
		authMW:              middleware.NewAuthMiddleware(deps.JWTSecret),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.engine.Group("/api/v1")

	// WebSocket endpoint authenticates via query token so browser clients
	// can connect.
	api.GET("/ws",
		r.authMW.WSAuth(),
		r.rateLimitMW.WebSocketRateLimit(5, time.Minute),
		r.wsHandler.HandleWebSocket,
	)

	// Authenticated routes
	auth := api.Group("/")
	auth.Use(r.authMW.RequireAuth())
	{
		auth.GET("/auth/me", r.authHandler.Profile)
		auth.GET("/counts", r.notificationHandler.Counts)

		trades := auth.Group("/trades")
		trades.Use(r.rateLimitMW.RateLimit(100, time.Minute))
		{
			trades.GET("", r.tradeHandler.ListOpen)
			trades.POST("", r.tradeHandler.Create)
			trades.GET("/mine", r.tradeHandler.ListMine)
			trades.GET("/:id", r.tradeHandler.Get)
			trades.POST("/:id/join", r.tradeHandler.Join)
			trades.PUT("/:id/status", r.tradeHandler.UpdateStatus)

			trades.GET("/:id/messages", r.messageHandler.History)
			trades.POST("/:id/messages", r.messageHandler.Send)
			trades.PUT("/:id/messages/read", r.messageHandler.MarkRead)
			trades.POST("/:id/receipts", r.messageHandler.UploadReceipt)
		}

		notifications := auth.Group("/notifications")
		notifications.Use(r.rateLimitMW.RateLimit(100, time.Minute))
		{
			notifications.GET("", r.notificationHandler.List)
			notifications.PUT("/:id/read", r.notificationHandler.MarkRead)
		}
	}

	// Public routes (no authentication required)
	public := api.Group("/auth")
	public.Use(r.rateLimitMW.RateLimitIP(50, time.Minute))
	{
		public.POST("/register", r.authHandler.Register)
		public.POST("/login", r.authHandler.Login)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
